// Package reasoner abstracts the LLM backends that guide navigation. Each
// backend translates a message history plus a tool schema, and optionally a
// screenshot, into exactly one next tool invocation.
package reasoner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Retry policy for rate-limited backends.
const (
	maxAttempts  = 3
	retryBaseOff = 2 * time.Second
)

// ToolCall is one decided invocation.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Decision is the outcome of one Decide call. Exactly one of Call or Text is
// meaningful: a text-only response signals the navigator to abort the step.
type Decision struct {
	Call       *ToolCall
	Text       string
	TokensUsed int
}

// Turn is one prior message in the navigation dialogue.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Param describes one argument of a tool schema entry.
type Param struct {
	Name        string
	Type        string // "string" or "integer"
	Description string
	Required    bool
}

// ToolSpec is one entry in the fixed tool schema handed to the backend.
type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
}

// Request carries everything a backend needs for one decision. The server
// backend ignores the message log and sends the structured page state
// instead.
type Request struct {
	System     string
	Turns      []Turn
	Tools      []ToolSpec
	Screenshot []byte // PNG, nil when the backend has no vision

	// Server-backend routing fields.
	RequestID string
	ShopID    string
	Goal      string
	PageState any
	Step      int
}

// Client is a stateless decision maker. Implementations must not retain
// navigation history between calls; each navigator invocation owns its own
// message log.
type Client interface {
	Decide(ctx context.Context, req *Request) (*Decision, error)
	Backend() string
}

// New constructs the backend named by the configuration.
func New(cfg *config.Config) (Client, error) {
	switch cfg.ReasonerBackend {
	case config.BackendGemini:
		return NewGemini(cfg)
	case config.BackendOllama:
		return NewOllama(cfg), nil
	case config.BackendServer:
		return NewServer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown reasoner backend %q", cfg.ReasonerBackend)
	}
}

// withRetry runs fn with rate-limit retry: up to three attempts with
// exponential backoff starting at 2s. Non-rate-limit errors propagate
// immediately.
func withRetry(ctx context.Context, backend string, fn func() (*Decision, error)) (*Decision, error) {
	backoff := retryBaseOff

	for attempt := 1; ; attempt++ {
		decision, err := fn()
		if err == nil {
			metrics.RecordReasonerCall(backend, "success")
			return decision, nil
		}

		if !isRateLimited(err) {
			metrics.RecordReasonerCall(backend, "error")
			return nil, err
		}

		metrics.RecordReasonerCall(backend, "rate_limited")
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("%w: %d attempts exhausted: %v", types.ErrReasonerRateLimited, maxAttempts, err)
		}

		log.Warn().
			Str("backend", backend).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Reasoner rate limited, backing off")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

// isRateLimited classifies provider rate-limit responses across backends.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "quota")
}
