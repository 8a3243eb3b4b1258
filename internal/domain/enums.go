// Package domain defines the core domain models for the control plane.
package domain

// RunPhase represents the lifecycle phase of a run.
type RunPhase string

const (
	PhasePending              RunPhase = "pending"
	PhasePlanning             RunPhase = "planning"
	PhaseAwaitingPlanApproval RunPhase = "awaiting_plan_approval"
	PhaseExecuting            RunPhase = "executing"
	PhaseAwaitingReview       RunPhase = "awaiting_review"
	PhaseBlocked              RunPhase = "blocked"
	PhaseCompleted            RunPhase = "completed"
	PhaseCancelled            RunPhase = "cancelled"
)

// RunStatus represents an operator hold on a run, orthogonal to its phase.
type RunStatus string

const (
	RunStatusActive RunStatus = "active"
	RunStatusPaused RunStatus = "paused"
)

// BlockedReason explains why a run entered the blocked phase.
type BlockedReason string

const (
	BlockedGateFailed              BlockedReason = "gate_failed"
	BlockedPolicyExceptionRequired BlockedReason = "policy_exception_required"
	BlockedRetryLimitExceeded      BlockedReason = "retry_limit_exceeded"
	BlockedEnqueueFailed           BlockedReason = "enqueue_failed"
)

// GateStatus is the outcome of evaluating a single gate.
type GateStatus string

const (
	GatePending GateStatus = "pending"
	GatePassed  GateStatus = "passed"
	GateFailed  GateStatus = "failed"
)

// Verdict is the decision carried by a review.
type Verdict string

const (
	VerdictApproved         Verdict = "approved"
	VerdictChangesRequested Verdict = "changes_requested"
)

// ArtifactType represents the type of an agent-produced document.
type ArtifactType string

const (
	ArtifactPlan   ArtifactType = "plan"
	ArtifactReview ArtifactType = "review"
	ArtifactNote   ArtifactType = "note"
)

// ValidationStatus represents the validation state of an artifact.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// ActionType represents an operator decision.
type ActionType string

const (
	ActionApprovePlan          ActionType = "approve_plan"
	ActionRejectRun            ActionType = "reject_run"
	ActionRetry                ActionType = "retry"
	ActionPause                ActionType = "pause"
	ActionResume               ActionType = "resume"
	ActionCancel               ActionType = "cancel"
	ActionGrantPolicyException ActionType = "grant_policy_exception"
	ActionDenyPolicyException  ActionType = "deny_policy_exception"
)

// OverrideKind represents what an override excepts.
type OverrideKind string

const (
	OverrideKindPolicy OverrideKind = "policy"
	OverrideKindGate   OverrideKind = "gate"
)

// OverrideScope represents the breadth of an override, narrowest first.
type OverrideScope string

const (
	ScopeThisRun     OverrideScope = "this_run"
	ScopeThisTask    OverrideScope = "this_task"
	ScopeThisRepo    OverrideScope = "this_repo"
	ScopeProjectWide OverrideScope = "project_wide"
)

// ScopeRank orders scopes by breadth. Higher is broader.
func ScopeRank(s OverrideScope) int {
	switch s {
	case ScopeThisRun:
		return 1
	case ScopeThisTask:
		return 2
	case ScopeThisRepo:
		return 3
	case ScopeProjectWide:
		return 4
	}
	return 0
}

// PolicyDecision is the outcome of policy evaluation for a tool call.
type PolicyDecision string

const (
	DecisionAllow PolicyDecision = "allow"
	DecisionBlock PolicyDecision = "block"
)

// InvocationStatus represents the status of a tool invocation.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
	InvocationBlocked   InvocationStatus = "blocked"
	InvocationTimeout   InvocationStatus = "timeout"
)

// EventKind represents the type of a stream event.
type EventKind string

const (
	EventRunCreated      EventKind = "run_created"
	EventPhaseTransition EventKind = "phase_transition"
	EventRunBlocked      EventKind = "run_blocked"
	EventRunResumed      EventKind = "run_resumed"
	EventRunPaused       EventKind = "run_paused"
	EventGatePassed      EventKind = "gate_passed"
	EventGateFailed      EventKind = "gate_failed"
	EventOperatorAction  EventKind = "operator_action"
	EventArtifactAdded   EventKind = "artifact_added"
	EventToolDenied      EventKind = "tool_denied"
	EventOverrideGranted EventKind = "override_granted"
	EventRunCompleted    EventKind = "run_completed"
	EventRunCancelled    EventKind = "run_cancelled"

	// EventRefreshRequired is a control frame for subscribers; it is never
	// persisted to the event log.
	EventRefreshRequired EventKind = "refresh_required"
)
