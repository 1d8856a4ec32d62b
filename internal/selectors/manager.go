package selectors

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadStats contains statistics about selector reloads.
type ReloadStats struct {
	LastReloadTime time.Time
	ReloadCount    int64
	LastError      error
}

// Manager provides hot-reload capable selector management.
// It keeps the embedded catalog as an immutable fallback and optionally
// watches an external override file for runtime updates. Reads are lock-free
// using atomic.Value.
type Manager struct {
	embedded     *Selectors   // Compiled-in defaults (immutable)
	current      atomic.Value // *Selectors - atomic swap for lock-free reads
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reload operations and stats
	stats        ReloadStats
	closed       bool
}

// NewManager creates a new selectors Manager.
// If externalPath is empty, only the embedded catalog is used.
// If hotReload is true and externalPath is set, file changes trigger reloads.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Get(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath != "" {
		if err := m.reloadFromFile(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("External selectors file not loaded, using embedded catalog")
		}
	}

	if hotReload && externalPath != "" {
		if err := m.startWatcher(); err != nil {
			return nil, fmt.Errorf("failed to start selectors watcher: %w", err)
		}
	}

	return m, nil
}

// Current returns the active selectors catalog. Safe for concurrent use.
func (m *Manager) Current() *Selectors {
	return m.current.Load().(*Selectors)
}

// Stats returns a snapshot of reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// reloadFromFile reads and swaps in the external catalog.
func (m *Manager) reloadFromFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return err
	}

	s, err := Parse(data)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("invalid selectors file: %w", err)
	}

	m.current.Store(s)
	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Info().
		Str("path", m.externalPath).
		Int64("reload_count", m.stats.ReloadCount).
		Msg("Selectors reloaded from external file")
	return nil
}

// startWatcher begins watching the external file's directory for changes.
// Watching the directory rather than the file survives editor rename-replace.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	dir := filepath.Dir(m.externalPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watchLoop()
	}()

	log.Info().
		Str("path", m.externalPath).
		Msg("Selectors hot-reload watcher started")
	return nil
}

// watchLoop handles fsnotify events with debouncing: editors often emit a
// burst of writes for one save.
func (m *Manager) watchLoop() {
	const debounce = 200 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-m.stopCh:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.externalPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(debounce)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Selectors watcher error")

		case <-pending:
			pending = nil
			if err := m.reloadFromFile(); err != nil {
				log.Warn().Err(err).Msg("Selectors reload failed, keeping previous catalog")
			}
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}
