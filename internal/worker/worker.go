// Package worker manages browser workers and the pool that sizes them.
// A worker is one authenticated browser session plus everything needed to
// run a request against it; the pool owns the only references to workers.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/browser"
	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/handler"
	"github.com/autoshop-tools/mitchell-agent-go/internal/navigator"
	"github.com/autoshop-tools/mitchell-agent-go/internal/reasoner"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/session"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// State is a worker lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateIdle
	StateBusy
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Stats tracks per-worker request counters.
type Stats struct {
	Processed atomic.Int64
	Failed    atomic.Int64
}

// Worker is one browser session bound to a unique debugging port and
// profile directory. Execute is single-flight; the pool enforces exclusive
// checkout on top of that.
type Worker struct {
	id         int
	port       int
	profileDir string

	driver  *browser.Driver
	session *session.Manager
	handler *handler.Handler

	state      atomic.Int32
	lastActive atomic.Int64
	busy       sync.Mutex

	cfg      *config.Config
	sel      *selectors.Selectors
	reasoner reasoner.Client

	watcherCancel context.CancelFunc
	stopOnce      sync.Once

	Stats Stats
}

// NewWorker builds an unstarted worker. Start must succeed before the
// worker may execute requests.
func NewWorker(id, port int, profileDir string, cfg *config.Config, sel *selectors.Selectors, r reasoner.Client) *Worker {
	w := &Worker{
		id:         id,
		port:       port,
		profileDir: profileDir,
		cfg:        cfg,
		sel:        sel,
		reasoner:   r,
	}
	w.state.Store(int32(StateStarting))
	w.driver = browser.NewDriver(cfg, sel, id, port, profileDir)
	w.session = session.NewManager(id, w.driver, cfg.SessionIdleTimeout, cfg.SessionWatchPeriod)
	return w
}

// ID returns the pool-assigned worker id.
func (w *Worker) ID() int { return w.id }

// Port returns the browser debugging port.
func (w *Worker) Port() int { return w.port }

// ProfileDir returns the exclusive browser profile directory.
func (w *Worker) ProfileDir() string { return w.profileDir }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// IdleFor reports how long the worker has been out of Busy. Zero while Busy.
func (w *Worker) IdleFor() time.Duration {
	if w.State() == StateBusy {
		return 0
	}
	last := w.lastActive.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// Start connects the browser, logs in, and wires the request pipeline.
// On error the worker lands in Error state and must be discarded.
func (w *Worker) Start(ctx context.Context) error {
	log.Info().Int("worker_id", w.id).Int("port", w.port).Str("profile", w.profileDir).Msg("Starting worker")

	// A browser left over from a previous run may still hold a portal
	// session on this port. Log it out before the first request.
	if err := w.driver.EnsureCleanState(ctx); err != nil {
		log.Warn().Int("worker_id", w.id).Err(err).Msg("Stale session cleanup failed, continuing")
	}

	if err := w.session.EnsureLoggedIn(ctx); err != nil {
		w.state.Store(int32(StateError))
		return fmt.Errorf("worker %d start: %w", w.id, err)
	}

	page := w.driver.Page()
	portal := browser.NewPortal(page, w.sel)
	nav := navigator.New(portal, w.reasoner, w.cfg.MaxNavigationSteps, nil)
	lookup := browser.NewLookup(page, w.sel)
	w.handler = handler.New(w.session, nav, lookup, w.cfg.ShopID)

	watcherCtx, cancel := context.WithCancel(context.Background())
	w.watcherCancel = cancel
	w.session.StartTimeoutWatcher(watcherCtx)

	w.markIdle()
	return nil
}

// Execute runs one request. A second concurrent call fails fast instead of
// queueing; queueing belongs to the pool semaphore.
func (w *Worker) Execute(ctx context.Context, req *types.Request) (*types.Result, error) {
	if !w.busy.TryLock() {
		return nil, types.ErrWorkerBusy
	}
	defer w.busy.Unlock()

	if s := w.State(); s != StateIdle && s != StateBusy {
		return nil, fmt.Errorf("worker %d in state %s: %w", w.id, s, types.ErrNoWorkersAvailable)
	}
	w.state.Store(int32(StateBusy))
	defer w.markIdle()

	execCtx := ctx
	if w.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, w.cfg.RequestTimeout)
		defer cancel()
	}

	result := w.handler.Process(execCtx, req)
	w.Stats.Processed.Add(1)
	if !result.Success {
		w.Stats.Failed.Add(1)
	}
	return result, nil
}

// markIdle transitions to Idle and stamps the activity clock.
func (w *Worker) markIdle() {
	w.state.Store(int32(StateIdle))
	w.lastActive.Store(time.Now().UnixNano())
}

// markBusy is called by the pool under its lock on checkout.
func (w *Worker) markBusy() {
	w.state.Store(int32(StateBusy))
}

// markStopping is called by the pool under its lock when retiring a worker,
// so it cannot be leased while Stop proceeds.
func (w *Worker) markStopping() {
	w.state.Store(int32(StateStopping))
}

// Stop ends the session and tears down the browser. Idempotent.
func (w *Worker) Stop(ctx context.Context) {
	w.stopOnce.Do(func() {
		w.state.Store(int32(StateStopping))
		log.Info().Int("worker_id", w.id).Msg("Stopping worker")

		if w.watcherCancel != nil {
			w.watcherCancel()
		}
		w.session.Stop()
		if err := w.session.Logout(ctx); err != nil {
			log.Warn().Int("worker_id", w.id).Err(err).Msg("Logout during stop failed")
		}
		w.driver.Disconnect()
	})
}
