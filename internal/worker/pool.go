package worker

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
	"github.com/autoshop-tools/mitchell-agent-go/internal/reasoner"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

const (
	scalerPeriod     = 10 * time.Second
	acquirePollEvery = time.Second
	stopParallelism  = 4
	portProbeLimit   = 200
)

// Lease is a scoped worker checkout. Release must be called exactly once.
type Lease struct {
	Worker *Worker
	pool   *Pool
	done   sync.Once
}

// Release returns the worker to the pool, or destroys it in on-demand mode.
func (l *Lease) Release(ctx context.Context) {
	l.done.Do(func() { l.pool.release(ctx, l.Worker) })
}

// Execute runs one request on the leased worker.
func (l *Lease) Execute(ctx context.Context, req *types.Request) (*types.Result, error) {
	return l.Worker.Execute(ctx, req)
}

// SelectorSource yields the selector catalog workers should read. The pool
// consults it at spawn time, not build time, so hot reloads reach every
// session started after the reload.
type SelectorSource interface {
	Current() *selectors.Selectors
}

// StaticSelectors adapts a fixed catalog into a SelectorSource.
type StaticSelectors struct {
	S *selectors.Selectors
}

// Current returns the fixed catalog.
func (s StaticSelectors) Current() *selectors.Selectors { return s.S }

// Pool sizes the worker set under one of three scaling modes and hands out
// exclusive leases bounded by a semaphore.
type Pool struct {
	cfg      *config.Config
	selSrc   SelectorSource
	reasoner reasoner.Client

	max int
	min int

	sem *semaphore.Weighted

	mu       sync.Mutex
	workers  map[int]*Worker
	nextID   int
	nextPort int

	scalerCancel context.CancelFunc
	scalerDone   chan struct{}
	stopOnce     sync.Once
	closed       bool
}

// NewPool builds an unstarted pool. The reasoner client may be nil when no
// backend is configured; navigation then runs purely deterministically.
func NewPool(cfg *config.Config, src SelectorSource, r reasoner.Client) *Pool {
	max := cfg.MaxWorkers
	min := cfg.MinWorkers
	if cfg.ScalingMode == config.ScalingSingle {
		max, min = 1, 1
	}
	if max < 1 {
		max = 1
	}
	if min > max {
		min = max
	}
	return &Pool{
		cfg:      cfg,
		selSrc:   src,
		reasoner: r,
		max:      max,
		min:      min,
		sem:      semaphore.NewWeighted(int64(max)),
		workers:  make(map[int]*Worker),
		nextPort: cfg.BasePort,
	}
}

// Start pre-spawns workers as the scaling mode requires and launches the
// scaler in pool mode.
func (p *Pool) Start(ctx context.Context) error {
	log.Info().
		Str("mode", p.cfg.ScalingMode).
		Int("min", p.min).
		Int("max", p.max).
		Msg("Starting worker pool")

	prespawn := 0
	switch p.cfg.ScalingMode {
	case config.ScalingSingle:
		prespawn = 1
	case config.ScalingPool:
		prespawn = p.min
	}

	for i := 0; i < prespawn; i++ {
		if _, err := p.spawnWorker(ctx); err != nil {
			p.Stop(ctx)
			return fmt.Errorf("pool start: %w", err)
		}
	}

	if p.cfg.ScalingMode == config.ScalingPool {
		scalerCtx, cancel := context.WithCancel(context.Background())
		p.scalerCancel = cancel
		p.scalerDone = make(chan struct{})
		go p.runScaler(scalerCtx)
	}

	p.publishGauges()
	return nil
}

// Acquire checks out one idle worker, spawning when the mode allows it.
// Blocks on the semaphore while max workers are already leased.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("pool acquire: %w", err)
	}

	w, err := p.pickOrSpawn(ctx)
	if err != nil {
		p.sem.Release(1)
		metrics.PoolAcquireTimeouts.Inc()
		return nil, err
	}

	metrics.PoolAcquisitions.Inc()
	p.publishGauges()
	return &Lease{Worker: w, pool: p}, nil
}

// pickOrSpawn finds an idle worker within the acquire timeout, then falls
// back to spawning one.
func (p *Pool) pickOrSpawn(ctx context.Context) (*Worker, error) {
	if p.cfg.ScalingMode == config.ScalingOnDemand {
		w, err := p.spawnWorker(ctx)
		if err != nil {
			return nil, err
		}
		w.markBusy()
		return w, nil
	}

	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		if w := p.checkoutIdle(); w != nil {
			return w, nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollEvery):
		}
	}

	w, err := p.spawnWorker(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNoWorkersAvailable, err)
	}
	w.markBusy()
	return w, nil
}

// checkoutIdle transitions one idle worker to Busy under the pool lock.
func (p *Pool) checkoutIdle() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.State() == StateIdle {
			w.markBusy()
			return w
		}
	}
	return nil
}

// release ends a lease. On-demand workers are destroyed; others go back to
// Idle for the next checkout.
func (p *Pool) release(ctx context.Context, w *Worker) {
	if p.cfg.ScalingMode == config.ScalingOnDemand {
		p.killWorker(ctx, w.ID())
	} else {
		w.markIdle()
	}
	p.sem.Release(1)
	p.publishGauges()
}

// spawnWorker allocates a port and profile directory and starts a worker.
// The pool lock is not held across the browser startup.
func (p *Pool) spawnWorker(ctx context.Context) (*Worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.ErrPoolClosed
	}
	if len(p.workers) >= p.max {
		p.mu.Unlock()
		return nil, types.ErrPoolAtCapacity
	}
	port, err := p.allocatePortLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	id := p.nextID
	profileDir := filepath.Join(p.cfg.ProfileRoot, fmt.Sprintf("worker-%d", id))
	w := NewWorker(id, port, profileDir, p.cfg, p.selSrc.Current(), p.reasoner)
	// Register before Start so a concurrent spawn cannot reuse the port.
	p.workers[id] = w
	p.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		p.mu.Lock()
		delete(p.workers, id)
		p.mu.Unlock()
		w.Stop(ctx)
		return nil, err
	}

	p.publishGauges()
	return w, nil
}

// allocatePortLocked probes upward from the base port for a free TCP port
// not already assigned to a live worker. Caller holds the pool lock.
func (p *Pool) allocatePortLocked() (int, error) {
	taken := make(map[int]bool, len(p.workers))
	for _, w := range p.workers {
		taken[w.Port()] = true
	}

	for probe := 0; probe < portProbeLimit; probe++ {
		port := p.nextPort
		p.nextPort++
		if taken[port] {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, types.ErrNoFreePort
}

// killWorker stops a worker and removes it from the set.
func (p *Pool) killWorker(ctx context.Context, id int) {
	p.mu.Lock()
	w, ok := p.workers[id]
	if ok {
		delete(p.workers, id)
	}
	p.mu.Unlock()
	if ok {
		w.Stop(ctx)
	}
}

// runScaler evaluates the pool size every period: spawn when no worker is
// idle and the cap allows, retire one sufficiently idle worker when above
// the minimum. One action per tick.
func (p *Pool) runScaler(ctx context.Context) {
	defer close(p.scalerDone)
	ticker := time.NewTicker(scalerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scaleTick(ctx)
		}
	}
}

func (p *Pool) scaleTick(ctx context.Context) {
	p.mu.Lock()
	live := len(p.workers)
	idle := 0
	var retire *Worker
	for _, w := range p.workers {
		if w.State() != StateIdle {
			continue
		}
		idle++
		if live > p.min && w.IdleFor() > p.cfg.IdleTimeout {
			if retire == nil || w.IdleFor() > retire.IdleFor() {
				retire = w
			}
		}
	}
	// Claim the retiree while still holding the lock. Checkout also runs
	// under this lock, so a worker can never be leased and retired at
	// the same time.
	if retire != nil {
		retire.markStopping()
		delete(p.workers, retire.ID())
	}
	p.mu.Unlock()

	switch {
	case idle == 0 && live < p.max:
		log.Debug().Int("live", live).Msg("Scaler spawning worker")
		if _, err := p.spawnWorker(ctx); err != nil {
			log.Warn().Err(err).Msg("Scale-up failed")
		}
	case retire != nil:
		log.Debug().Int("worker_id", retire.ID()).Msg("Scaler retiring worker")
		retire.Stop(ctx)
	}
	p.publishGauges()
}

// Stop cancels the scaler and stops every worker. Idempotent.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		log.Info().Msg("Stopping worker pool")

		if p.scalerCancel != nil {
			p.scalerCancel()
			<-p.scalerDone
		}

		p.mu.Lock()
		p.closed = true
		stopping := make([]*Worker, 0, len(p.workers))
		for _, w := range p.workers {
			stopping = append(stopping, w)
		}
		p.workers = make(map[int]*Worker)
		p.mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(stopParallelism)
		for _, w := range stopping {
			g.Go(func() error {
				w.Stop(gctx)
				return nil
			})
		}
		g.Wait()
		p.publishGauges()
	})
}

// WorkerCount returns the number of live workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// publishGauges refreshes the per-state worker metrics.
func (p *Pool) publishGauges() {
	p.mu.Lock()
	counts := make(map[State]int)
	for _, w := range p.workers {
		counts[w.State()]++
	}
	p.mu.Unlock()

	for _, s := range []State{StateStarting, StateIdle, StateBusy, StateStopping, StateError} {
		metrics.SetWorkerState(s.String(), counts[s])
	}
}
