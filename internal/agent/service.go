// Package agent runs the top-level poll, dispatch and shutdown loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
	"github.com/autoshop-tools/mitchell-agent-go/internal/worker"
)

// ErrPollCircuitOpen is returned by Run when consecutive poll failures
// exceed the configured threshold.
var ErrPollCircuitOpen = errors.New("too many consecutive poll errors")

// Lease is a checked-out worker scoped to one request.
type Lease interface {
	Execute(ctx context.Context, req *types.Request) (*types.Result, error)
	Release(ctx context.Context)
}

// WorkerPool is the slice of the pool the service drives.
type WorkerPool interface {
	Start(ctx context.Context) error
	Acquire(ctx context.Context) (Lease, error)
	Stop(ctx context.Context)
}

// WrapPool adapts the concrete worker pool to the service interface.
func WrapPool(p *worker.Pool) WorkerPool {
	return poolAdapter{p}
}

type poolAdapter struct {
	pool *worker.Pool
}

func (a poolAdapter) Start(ctx context.Context) error { return a.pool.Start(ctx) }
func (a poolAdapter) Stop(ctx context.Context)        { a.pool.Stop(ctx) }

func (a poolAdapter) Acquire(ctx context.Context) (Lease, error) {
	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Poller is the slice of the multi-server poller the service drives.
type Poller interface {
	GetAllPending(ctx context.Context) ([]*types.Request, error)
	ClaimRequest(ctx context.Context, req *types.Request) (bool, error)
	SubmitResult(ctx context.Context, req *types.Request, result *types.Result) error
}

// Service owns the polling loop. One instance runs per shop.
type Service struct {
	cfg    *config.Config
	pool   WorkerPool
	poller Poller

	requestSem *semaphore.Weighted
	inflight   sync.WaitGroup
}

// New builds a service over an unstarted pool. The request semaphore
// mirrors the pool's worker bound, so the in-flight request count is capped
// at both levels.
func New(cfg *config.Config, pool WorkerPool, p Poller) *Service {
	bound := cfg.MaxWorkers
	if bound < 1 {
		bound = 1
	}
	return &Service{
		cfg:        cfg,
		pool:       pool,
		poller:     p,
		requestSem: semaphore.NewWeighted(int64(bound)),
	}
}

// Run polls until ctx is cancelled or the poll error circuit opens. The
// returned error is nil on a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("agent start: %w", err)
	}
	defer s.shutdown()

	log.Info().
		Str("shop_id", s.cfg.ShopID).
		Dur("poll_interval", s.cfg.PollInterval).
		Msg("Agent polling started")

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutdown requested")
			return nil
		default:
		}

		requests, err := s.poller.GetAllPending(ctx)
		if err != nil {
			consecutiveErrors++
			log.Warn().
				Int("consecutive", consecutiveErrors).
				Err(err).
				Msg("Poll sweep failed")
			if consecutiveErrors >= s.cfg.MaxPollErrors {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrPollCircuitOpen, consecutiveErrors, err)
			}
			if !sleepCtx(ctx, s.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		consecutiveErrors = 0

		if len(requests) == 0 {
			if !sleepCtx(ctx, s.cfg.PollInterval) {
				return nil
			}
			continue
		}

		log.Debug().Int("pending", len(requests)).Msg("Sweep found work")
		for _, req := range requests {
			if err := s.requestSem.Acquire(ctx, 1); err != nil {
				return nil // ctx cancelled while the queue was full
			}
			s.inflight.Add(1)
			go s.processRequest(ctx, req)
		}
	}
}

// processRequest drives one claimed request through a leased worker.
// Failures are isolated here; the polling loop never sees them.
func (s *Service) processRequest(ctx context.Context, req *types.Request) {
	defer s.inflight.Done()
	defer s.requestSem.Release(1)

	logger := log.With().Str("request_id", req.ID).Str("tool", req.Tool).Logger()

	claimed, err := s.poller.ClaimRequest(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Claim failed")
		return
	}
	if !claimed {
		// Another agent won the race.
		logger.Debug().Msg("Claim lost")
		return
	}

	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("No worker available for claimed request")
		s.submit(ctx, req, &types.Result{
			Success:  false,
			Error:    types.ErrNoWorkersAvailable.Error(),
			ToolUsed: req.Tool,
		}, logger)
		return
	}
	defer lease.Release(ctx)

	result, err := lease.Execute(ctx, req)
	if err != nil {
		result = &types.Result{Success: false, Error: err.Error(), ToolUsed: req.Tool}
	}

	s.submit(ctx, req, result, logger)
}

func (s *Service) submit(ctx context.Context, req *types.Request, result *types.Result, logger zerolog.Logger) {
	// Submission must outlive a cancelled polling context so the server
	// learns the outcome during shutdown.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.poller.SubmitResult(submitCtx, req, result); err != nil {
		logger.Error().Err(err).Msg("Result lost")
		return
	}
	logger.Info().Bool("success", result.Success).Int64("ms", result.ExecutionTimeMs).Msg("Result submitted")
}

// shutdown drains in-flight requests within the grace period, then stops
// the pool.
func (s *Service) shutdown() {
	grace := s.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	log.Info().Dur("grace", grace).Msg("Draining in-flight requests")

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Msg("Drain grace period expired with requests still in flight")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.pool.Stop(stopCtx)
	log.Info().Msg("Agent stopped")
}

// sleepCtx waits for d unless ctx ends first; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
