package humanize

import (
	"context"

	"github.com/go-rod/rod"
)

// Typist types text into form fields one character at a time with
// randomized inter-keystroke delays.
type Typist struct {
	page   *rod.Page
	timing *Timing
}

// NewTypist creates a typing helper for the given page.
func NewTypist(page *rod.Page, timing *Timing) *Typist {
	if timing == nil {
		timing = NewTiming()
	}
	return &Typist{page: page, timing: timing}
}

// TypeInto focuses the element and types text character by character.
// Any existing value is cleared first.
func (t *Typist) TypeInto(ctx context.Context, el *rod.Element, text string) error {
	if err := el.Focus(); err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if err := el.Input(""); err != nil {
		return err
	}

	for _, r := range text {
		if !SleepWithContext(ctx, t.timing.TypingDelay()) {
			return ctx.Err()
		}
		if err := t.page.InsertText(string(r)); err != nil {
			return err
		}
	}
	return nil
}

// FieldTransition pauses between form fields, as a human does when moving
// from the username box to the password box.
func (t *Typist) FieldTransition(ctx context.Context) error {
	if !SleepWithContext(ctx, t.timing.FieldPause()) {
		return ctx.Err()
	}
	return nil
}
