package humanize

import (
	"context"
	"testing"
	"time"
)

func TestRandomDuration(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := RandomDuration(30, 80)
		if d < 30*time.Millisecond || d > 80*time.Millisecond {
			t.Fatalf("duration %v outside [30ms, 80ms]", d)
		}
	}
}

func TestRandomDurationDegenerateRange(t *testing.T) {
	if d := RandomDuration(50, 50); d != 50*time.Millisecond {
		t.Errorf("expected 50ms for equal bounds, got %v", d)
	}
	if d := RandomDuration(50, 10); d != 50*time.Millisecond {
		t.Errorf("expected min for inverted bounds, got %v", d)
	}
}

func TestDefaultTimingConfig(t *testing.T) {
	cfg := DefaultTimingConfig()
	if cfg.TypingDelayMinMs != 30 || cfg.TypingDelayMaxMs != 80 {
		t.Errorf("typing delay bounds = [%d, %d], want [30, 80]",
			cfg.TypingDelayMinMs, cfg.TypingDelayMaxMs)
	}
	if cfg.FieldPauseMinMs != 300 || cfg.FieldPauseMaxMs != 1000 {
		t.Errorf("field pause bounds = [%d, %d], want [300, 1000]",
			cfg.FieldPauseMinMs, cfg.FieldPauseMaxMs)
	}
}

func TestTimingDelaysWithinConfig(t *testing.T) {
	tm := NewTiming()
	for i := 0; i < 50; i++ {
		if d := tm.TypingDelay(); d < 30*time.Millisecond || d > 80*time.Millisecond {
			t.Fatalf("TypingDelay %v outside configured bounds", d)
		}
		if d := tm.FieldPause(); d < 300*time.Millisecond || d > time.Second {
			t.Fatalf("FieldPause %v outside configured bounds", d)
		}
	}
}

func TestSleepWithContextCompletes(t *testing.T) {
	start := time.Now()
	ok := SleepWithContext(context.Background(), 10*time.Millisecond)
	if !ok {
		t.Error("expected sleep to complete normally")
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("sleep returned after %v, want >= 10ms", elapsed)
	}
}

func TestSleepWithContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	ok := SleepWithContext(ctx, 5*time.Second)
	if ok {
		t.Error("expected sleep to be interrupted")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("canceled sleep took %v, want immediate return", elapsed)
	}
}

func TestSleepWithJitterBounds(t *testing.T) {
	// With 100% jitter the duration can collapse to zero but must not
	// block longer than twice the base.
	start := time.Now()
	ok := SleepWithJitter(context.Background(), 10*time.Millisecond, 1.0)
	if !ok {
		t.Error("expected jittered sleep to complete")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("jittered sleep took %v, want well under 100ms", elapsed)
	}
}

func TestSleepWithJitterClampsPercent(t *testing.T) {
	// Out-of-range jitter percents are clamped rather than rejected.
	if ok := SleepWithJitter(context.Background(), time.Millisecond, -0.5); !ok {
		t.Error("negative jitter percent should still sleep")
	}
	if ok := SleepWithJitter(context.Background(), time.Millisecond, 2.0); !ok {
		t.Error("oversized jitter percent should still sleep")
	}
}

func TestRandomWait(t *testing.T) {
	if ok := RandomWait(context.Background(), 1, 5); !ok {
		t.Error("expected wait to complete")
	}
}

func TestBezierPathEndsAtTarget(t *testing.T) {
	start := Point{X: 0, Y: 0}
	end := Point{X: 200, Y: 100}
	path := bezierPath(start, end, 20)

	if len(path) != 20 {
		t.Fatalf("path length = %d, want 20", len(path))
	}
	last := path[len(path)-1]
	if last.X != end.X || last.Y != end.Y {
		t.Errorf("path ends at (%v, %v), want (%v, %v)", last.X, last.Y, end.X, end.Y)
	}
}

func TestPathStepsScalesWithDistance(t *testing.T) {
	short := pathSteps(Point{0, 0}, Point{10, 0})
	long := pathSteps(Point{0, 0}, Point{1000, 0})
	if short < 5 {
		t.Errorf("short path steps = %d, want >= 5", short)
	}
	if long > 40 {
		t.Errorf("long path steps = %d, want <= 40", long)
	}
	if long <= short {
		t.Errorf("steps should grow with distance: short=%d long=%d", short, long)
	}
}
