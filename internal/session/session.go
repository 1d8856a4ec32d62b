// Package session tracks portal login state per worker: an explicit
// logged-in bit, an idle-timeout watcher, and idempotent logout.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
)

// LoginDriver is the browser-facing surface the manager wraps. Callers must
// go through the manager instead of calling the driver directly; the manager
// owns the logged-in bit.
type LoginDriver interface {
	Connect(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Manager wraps one worker's browser driver with login-state tracking.
type Manager struct {
	workerID int
	driver   LoginDriver

	idleTimeout time.Duration
	watchPeriod time.Duration

	mu       sync.Mutex
	loggedIn bool

	lastActivity atomic.Int64 // Unix nano, lock-free reads from the watcher

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager for one worker.
func NewManager(workerID int, driver LoginDriver, idleTimeout, watchPeriod time.Duration) *Manager {
	return &Manager{
		workerID:    workerID,
		driver:      driver,
		idleTimeout: idleTimeout,
		watchPeriod: watchPeriod,
		stopCh:      make(chan struct{}),
	}
}

// EnsureLoggedIn establishes a portal session if one is not already active.
// An active session just refreshes the activity timestamp.
func (m *Manager) EnsureLoggedIn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loggedIn {
		m.lastActivity.Store(time.Now().UnixNano())
		return nil
	}

	if err := m.driver.Connect(ctx); err != nil {
		return err
	}

	m.loggedIn = true
	m.lastActivity.Store(time.Now().UnixNano())
	metrics.PortalSessions.Inc()

	log.Info().Int("worker_id", m.workerID).Msg("Portal session established")
	return nil
}

// UpdateActivity stamps the activity timestamp. Called after every portal
// interaction so the idle watcher does not log out a busy session.
func (m *Manager) UpdateActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LoggedIn reports the current login state.
func (m *Manager) LoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

// IdleFor returns how long the session has been inactive.
func (m *Manager) IdleFor() time.Duration {
	last := m.lastActivity.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// Logout ends the portal session. Idempotent: a logged-out manager is a
// no-op. The logged-in bit is cleared even when the portal call fails, so a
// broken page cannot wedge the worker in a half-open state.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loggedIn {
		return nil
	}

	err := m.driver.Logout(ctx)

	m.loggedIn = false
	m.lastActivity.Store(0)
	metrics.PortalSessions.Dec()

	if err != nil {
		log.Warn().Err(err).Int("worker_id", m.workerID).Msg("Portal logout failed, state cleared anyway")
		return err
	}
	log.Debug().Int("worker_id", m.workerID).Msg("Session logged out")
	return nil
}

// StartTimeoutWatcher spawns the idle watcher. It wakes every watch period
// and logs out a session idle longer than the idle timeout.
func (m *Manager) StartTimeoutWatcher(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.watchPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkIdle(ctx)
			}
		}
	}()
}

func (m *Manager) checkIdle(ctx context.Context) {
	if !m.LoggedIn() {
		return
	}
	idle := m.IdleFor()
	if idle <= m.idleTimeout {
		return
	}

	log.Info().
		Int("worker_id", m.workerID).
		Dur("idle", idle).
		Dur("timeout", m.idleTimeout).
		Msg("Session idle timeout reached, logging out")

	if err := m.Logout(ctx); err != nil {
		log.Warn().Err(err).Int("worker_id", m.workerID).Msg("Idle logout failed")
	}
}

// Stop terminates the watcher. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
