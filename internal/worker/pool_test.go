package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// swapSource is a SelectorSource whose catalog can be exchanged at runtime,
// the way the hot-reloading manager does.
type swapSource struct {
	mu  sync.Mutex
	cur *selectors.Selectors
}

func (s *swapSource) Current() *selectors.Selectors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *swapSource) swap(next *selectors.Selectors) {
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		ScalingMode:        mode,
		MinWorkers:         1,
		MaxWorkers:         3,
		BasePort:           9222,
		ProfileRoot:        "/tmp/mitchell-test",
		AcquireTimeout:     2 * time.Second,
		IdleTimeout:        time.Minute,
		SessionIdleTimeout: time.Minute,
		SessionWatchPeriod: time.Second,
	}
}

func TestNewPoolSingleModeCapsAtOne(t *testing.T) {
	p := NewPool(testConfig(config.ScalingSingle), StaticSelectors{selectors.Get()}, nil)
	if p.max != 1 || p.min != 1 {
		t.Errorf("single mode bounds = min %d max %d", p.min, p.max)
	}
}

func TestNewPoolClampsMinToMax(t *testing.T) {
	cfg := testConfig(config.ScalingPool)
	cfg.MinWorkers = 5
	cfg.MaxWorkers = 2
	p := NewPool(cfg, StaticSelectors{selectors.Get()}, nil)
	if p.min != 2 {
		t.Errorf("min = %d, want clamped to 2", p.min)
	}
}

func TestAllocatePortSkipsTakenPorts(t *testing.T) {
	p := NewPool(testConfig(config.ScalingPool), StaticSelectors{selectors.Get()}, nil)

	p.mu.Lock()
	first, err := p.allocatePortLocked()
	p.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}

	// Register a placeholder worker holding the next candidate port.
	w := NewWorker(99, p.nextPort, "/tmp/mitchell-test/worker-99", p.cfg, p.selSrc.Current(), nil)
	p.mu.Lock()
	p.workers[99] = w
	second, err := p.allocatePortLocked()
	p.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if second == first || second == w.Port() {
		t.Errorf("ports collide: first %d, taken %d, second %d", first, w.Port(), second)
	}
}

func TestCheckoutIdlePicksOnlyIdleWorkers(t *testing.T) {
	p := NewPool(testConfig(config.ScalingPool), StaticSelectors{selectors.Get()}, nil)

	busy := NewWorker(1, 9223, "/tmp/mitchell-test/worker-1", p.cfg, p.selSrc.Current(), nil)
	busy.markBusy()
	idle := NewWorker(2, 9224, "/tmp/mitchell-test/worker-2", p.cfg, p.selSrc.Current(), nil)
	idle.markIdle()
	p.mu.Lock()
	p.workers[1] = busy
	p.workers[2] = idle
	p.mu.Unlock()

	got := p.checkoutIdle()
	if got == nil || got.ID() != 2 {
		t.Fatalf("checkout = %+v", got)
	}
	if got.State() != StateBusy {
		t.Errorf("state after checkout = %s", got.State())
	}
	if p.checkoutIdle() != nil {
		t.Error("second checkout should find no idle worker")
	}
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	p := NewPool(testConfig(config.ScalingPool), StaticSelectors{selectors.Get()}, nil)
	w := NewWorker(1, 9225, "/tmp/mitchell-test/worker-1", p.cfg, p.selSrc.Current(), nil)
	w.markBusy()

	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	lease := &Lease{Worker: w, pool: p}
	lease.Release(context.Background())
	lease.Release(context.Background()) // no double semaphore release

	if w.State() != StateIdle {
		t.Errorf("state after release = %s", w.State())
	}
	// The permit must be available exactly once.
	if !p.sem.TryAcquire(1) {
		t.Fatal("semaphore permit not returned")
	}
	p.sem.Release(1)
}

func TestPoolReadsSelectorSourceAtSpawnTime(t *testing.T) {
	first := selectors.Get()
	src := &swapSource{cur: first}
	p := NewPool(testConfig(config.ScalingPool), src, nil)

	if p.selSrc.Current() != first {
		t.Fatal("pool does not read the configured source")
	}

	// A hot reload swaps the catalog; workers spawned afterwards must see
	// the new one.
	reloaded := &selectors.Selectors{}
	src.swap(reloaded)
	if p.selSrc.Current() != reloaded {
		t.Error("spawn-time catalog does not follow the source")
	}
}

func TestScaleTickNeverRetiresCheckedOutWorker(t *testing.T) {
	cfg := testConfig(config.ScalingPool)
	cfg.IdleTimeout = time.Millisecond
	p := NewPool(cfg, StaticSelectors{selectors.Get()}, nil)

	a := NewWorker(1, 9227, "/tmp/mitchell-test/worker-1", p.cfg, p.selSrc.Current(), nil)
	a.markIdle()
	b := NewWorker(2, 9228, "/tmp/mitchell-test/worker-2", p.cfg, p.selSrc.Current(), nil)
	b.markIdle()
	p.mu.Lock()
	p.workers[1] = a
	p.workers[2] = b
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	leased := p.checkoutIdle()
	if leased == nil {
		t.Fatal("expected an idle worker to check out")
	}

	// Both workers exceed the idle timeout, but only the unleased one may
	// be retired.
	p.scaleTick(context.Background())

	p.mu.Lock()
	_, leasedAlive := p.workers[leased.ID()]
	live := len(p.workers)
	p.mu.Unlock()
	if !leasedAlive {
		t.Fatal("scale-down retired a checked-out worker")
	}
	if leased.State() != StateBusy {
		t.Errorf("leased worker state = %s", leased.State())
	}
	if live != 1 {
		t.Errorf("live workers = %d, want 1 after retiring the idle one", live)
	}
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p := NewPool(testConfig(config.ScalingPool), StaticSelectors{selectors.Get()}, nil)
	w := NewWorker(1, 9229, "/tmp/mitchell-test/worker-1", p.cfg, p.selSrc.Current(), nil)
	w.markIdle()
	p.mu.Lock()
	p.workers[1] = w
	p.mu.Unlock()

	p.Stop(context.Background())
	p.Stop(context.Background())

	if p.WorkerCount() != 0 {
		t.Errorf("workers after stop = %d", p.WorkerCount())
	}
	if w.State() != StateStopping {
		t.Errorf("worker state = %s", w.State())
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, types.ErrPoolClosed) {
		t.Errorf("acquire after stop = %v, want ErrPoolClosed", err)
	}
}

func TestWorkerIdleFor(t *testing.T) {
	w := NewWorker(1, 9226, "/tmp/mitchell-test/worker-1", testConfig(config.ScalingSingle), selectors.Get(), nil)

	if w.IdleFor() != 0 {
		t.Error("unstarted worker should report zero idle time")
	}
	w.markIdle()
	time.Sleep(10 * time.Millisecond)
	if w.IdleFor() < 10*time.Millisecond {
		t.Errorf("idle for = %s", w.IdleFor())
	}
	w.markBusy()
	if w.IdleFor() != 0 {
		t.Error("busy worker should report zero idle time")
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateStarting: "starting",
		StateIdle:     "idle",
		StateBusy:     "busy",
		StateStopping: "stopping",
		StateError:    "error",
		State(42):     "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", s, s.String(), want)
		}
	}
}
