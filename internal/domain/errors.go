package domain

import (
	"errors"
	"fmt"
)

// Errors surfaced by the state machine and its callers. Transports map these
// to status codes; services wrap them with context via %w.
var (
	ErrRunNotFound        = errors.New("run not found")
	ErrRunTerminal        = errors.New("run is in a terminal phase")
	ErrStaleTransition    = errors.New("stale phase transition")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrActionNotAllowed   = errors.New("action not allowed in current state")
	ErrInvocationNotFound = errors.New("tool invocation not found")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrPolicyBlocked      = errors.New("blocked by policy")
)

// Replay errors: the event stream cannot guarantee a complete replay and the
// client must resynchronize instead of trusting a gapped window.
var (
	ErrReplayGapTooLarge = errors.New("replay gap too large")
	ErrReplayTooOld      = errors.New("replay window too old")
)

// PolicyBlockedError reports a tool call denied by policy. Recoverable only
// via an operator-granted override.
type PolicyBlockedError struct {
	PolicyID string
	Reason   string
}

func (e *PolicyBlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("blocked by policy %s", e.PolicyID)
	}
	return fmt.Sprintf("blocked by policy %s: %s", e.PolicyID, e.Reason)
}

func (e *PolicyBlockedError) Unwrap() error { return ErrPolicyBlocked }

// InvalidTransitionError wraps ErrInvalidTransition with the offending edge.
type InvalidTransitionError struct {
	From RunPhase
	To   RunPhase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
