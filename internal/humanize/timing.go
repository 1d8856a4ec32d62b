// Package humanize provides human-like interaction patterns for browser
// automation: randomized keystroke and field-transition delays for credential
// entry and Bezier-curve mouse movements for portal clicks.
package humanize

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrElementNotVisible is returned when an element cannot be found or has no
// visible bounds.
var ErrElementNotVisible = errors.New("element not visible or has no bounds")

// TimingConfig contains configuration for humanized timing behavior.
type TimingConfig struct {
	// Typing delays (milliseconds per keystroke)
	TypingDelayMinMs int
	TypingDelayMaxMs int

	// Pauses between form fields (milliseconds)
	FieldPauseMinMs int
	FieldPauseMaxMs int

	// Pre-action delays before clicks (milliseconds)
	PreActionDelayMinMs int
	PreActionDelayMaxMs int

	// Post-selection settle delays (milliseconds)
	SettleDelayMinMs int
	SettleDelayMaxMs int
}

// DefaultTimingConfig returns the timing profile used against the portal:
// 30-80ms per keystroke and 300-1000ms between credential fields.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		TypingDelayMinMs:    30,
		TypingDelayMaxMs:    80,
		FieldPauseMinMs:     300,
		FieldPauseMaxMs:     1000,
		PreActionDelayMinMs: 100,
		PreActionDelayMaxMs: 400,
		SettleDelayMinMs:    150,
		SettleDelayMaxMs:    500,
	}
}

// Timing provides humanized timing utilities.
type Timing struct {
	config TimingConfig
}

// NewTiming creates a new timing utility with default config.
func NewTiming() *Timing {
	return &Timing{config: DefaultTimingConfig()}
}

// NewTimingWithConfig creates a new timing utility with custom config.
func NewTimingWithConfig(config TimingConfig) *Timing {
	return &Timing{config: config}
}

// TypingDelay returns a random delay between keystrokes.
func (t *Timing) TypingDelay() time.Duration {
	return RandomDuration(t.config.TypingDelayMinMs, t.config.TypingDelayMaxMs)
}

// FieldPause returns a random pause between form fields.
func (t *Timing) FieldPause() time.Duration {
	return RandomDuration(t.config.FieldPauseMinMs, t.config.FieldPauseMaxMs)
}

// PreActionDelay returns a random delay to use before performing an action.
func (t *Timing) PreActionDelay() time.Duration {
	return RandomDuration(t.config.PreActionDelayMinMs, t.config.PreActionDelayMaxMs)
}

// SettleDelay returns a random delay after a selection, covering the
// portal's list-refresh animation.
func (t *Timing) SettleDelay() time.Duration {
	return RandomDuration(t.config.SettleDelayMinMs, t.config.SettleDelayMaxMs)
}

// RandomDuration returns a random duration between min and max milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// SleepWithContext sleeps for the specified duration or until the context is
// canceled. Returns true if the sleep completed normally.
// Uses time.NewTimer instead of time.After to prevent timer leak.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepWithJitter sleeps for the given duration plus/minus a random jitter.
// jitterPercent is the maximum jitter as a percentage (0.0 to 1.0).
func SleepWithJitter(ctx context.Context, base time.Duration, jitterPercent float64) bool {
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	if jitterPercent > 1 {
		jitterPercent = 1
	}

	jitterRange := float64(base) * jitterPercent
	jitter := (rand.Float64()*2 - 1) * jitterRange

	duration := time.Duration(float64(base) + jitter)
	if duration < 0 {
		duration = 0
	}

	return SleepWithContext(ctx, duration)
}

// RandomWait waits for a random duration between min and max milliseconds.
func RandomWait(ctx context.Context, minMs, maxMs int) bool {
	return SleepWithContext(ctx, RandomDuration(minMs, maxMs))
}
