package types

import "errors"

// Sentinel errors for consistent error handling across the agent.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser errors
	ErrConnectionFailed = errors.New("failed to connect to browser")
	ErrLoginFailed      = errors.New("portal login failed")
	ErrLogoutFailed     = errors.New("portal logout failed")
	ErrSessionLimit     = errors.New("all portal sessions are currently in use")

	// Navigation errors
	ErrNavigationStuck   = errors.New("navigation stuck: could not complete vehicle selection")
	ErrSelectorNotOpen   = errors.New("vehicle selector failed to open")
	ErrMissingField      = errors.New("required vehicle field missing")
	ErrOptionsIncomplete = errors.New("could not complete Options selection")

	// Worker pool errors
	ErrPoolClosed         = errors.New("worker pool is closed")
	ErrNoWorkersAvailable = errors.New("no workers available")
	ErrPoolAtCapacity     = errors.New("worker pool at maximum capacity")
	ErrWorkerBusy         = errors.New("worker is busy")
	ErrNoFreePort         = errors.New("no free debugging port available")

	// Server errors
	ErrClaimLost     = errors.New("request already claimed by another agent")
	ErrServerError   = errors.New("server returned an error")
	ErrSubmitFailed  = errors.New("failed to submit result")
	ErrNoSourceTag   = errors.New("request has no source server tag")

	// Tool errors
	ErrUnknownTool = errors.New("unknown tool")

	// Reasoner errors
	ErrReasonerRateLimited = errors.New("reasoner rate limited")
	ErrReasonerProtocol    = errors.New("reasoner returned malformed decision")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// NavigationError provides detail about a failed navigation attempt.
// It implements the error interface and supports error unwrapping.
type NavigationError struct {
	Stage   string // "open_selector", "year", "make", "model", "engine", "submodel", "options"
	Goal    string // The free-text goal being navigated
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *NavigationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NavigationError) Unwrap() error {
	return e.Err
}

// NewMissingFieldError creates an error for a goal missing a required field.
func NewMissingFieldError(field, goal string) *NavigationError {
	return &NavigationError{
		Stage:   field,
		Goal:    goal,
		Message: "required vehicle field missing: " + field,
		Err:     ErrMissingField,
	}
}

// NewStuckError creates an error for a navigation that stopped progressing.
func NewStuckError(stage, goal, reason string) *NavigationError {
	return &NavigationError{
		Stage:   stage,
		Goal:    goal,
		Message: "navigation stuck at " + stage + ": " + reason,
		Err:     ErrNavigationStuck,
	}
}

// ReasonerError provides detail about a failed reasoner decision.
type ReasonerError struct {
	Backend string // "gemini", "ollama", "server"
	Step    int    // Navigation step the decision was requested for
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ReasonerError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ReasonerError) Unwrap() error {
	return e.Err
}

// NewReasonerProtocolError creates an error for a malformed reasoner response.
func NewReasonerProtocolError(backend string, step int, reason string) *ReasonerError {
	return &ReasonerError{
		Backend: backend,
		Step:    step,
		Message: "reasoner protocol error from " + backend + ": " + reason,
		Err:     ErrReasonerProtocol,
	}
}
