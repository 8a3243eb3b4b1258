package domain

import (
	"encoding/json"
	"time"
)

// CreateRunRequest represents the request to create a run.
type CreateRunRequest struct {
	TaskID     string `json:"task_id"`
	ProjectID  string `json:"project_id"`
	RepoID     string `json:"repo_id"`
	Branch     string `json:"branch,omitempty"`
	BaseBranch string `json:"base_branch,omitempty"`
}

// CreateRunResponse represents the response after creating a run.
type CreateRunResponse struct {
	RunID string   `json:"run_id"`
	Phase RunPhase `json:"phase"`
}

// RunDetailResponse is a run together with its recent history.
type RunDetailResponse struct {
	Run         *Run             `json:"run"`
	Artifacts   []Artifact       `json:"artifacts,omitempty"`
	Actions     []OperatorAction `json:"actions,omitempty"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
}

// ActionRequest represents an operator action on a run. For
// grant_policy_exception the Override field describes the exception to grant.
type ActionRequest struct {
	Action        ActionType             `json:"action"`
	Operator      string                 `json:"operator"`
	Justification string                 `json:"justification,omitempty"`
	Override      *CreateOverrideRequest `json:"override,omitempty"`
}

// ActionResponse represents the run state after an operator action.
type ActionResponse struct {
	ActionID string    `json:"action_id"`
	RunID    string    `json:"run_id"`
	Phase    RunPhase  `json:"phase"`
	Status   RunStatus `json:"status"`
}

// CreateOverrideRequest represents a request to grant an override.
type CreateOverrideRequest struct {
	Kind            OverrideKind  `json:"kind"`
	TargetID        string        `json:"target_id,omitempty"`
	Scope           OverrideScope `json:"scope"`
	RunID           string        `json:"run_id,omitempty"`
	TaskID          string        `json:"task_id,omitempty"`
	RepoID          string        `json:"repo_id,omitempty"`
	ProjectID       string        `json:"project_id"`
	ConstraintKind  string        `json:"constraint_kind,omitempty"`
	ConstraintValue string        `json:"constraint_value,omitempty"`
	Operator        string        `json:"operator"`
	Justification   string        `json:"justification,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
}

// TransitionRequest represents a collaborator-driven phase transition.
type TransitionRequest struct {
	From RunPhase `json:"from"`
	To   RunPhase `json:"to"`
	Step string   `json:"step,omitempty"`
}

// SubmitArtifactRequest represents artifact intake from the agent layer.
type SubmitArtifactRequest struct {
	Type               ArtifactType `json:"type"`
	Content            string       `json:"content"`
	SourceInvocationID string       `json:"source_invocation_id,omitempty"`
}

// SubmitArtifactResponse represents the stored artifact state.
type SubmitArtifactResponse struct {
	ArtifactID       string           `json:"artifact_id"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	RunPhase         RunPhase         `json:"run_phase"`
}

// ToolInvokeRequest represents the request to invoke a guarded tool.
// Required marks the call as necessary for forward progress: a policy block
// then pushes the run to blocked instead of only rejecting the call.
type ToolInvokeRequest struct {
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args"`
	Required  bool            `json:"required,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

// ToolInvokeResponse represents the guard's decision on a tool call.
type ToolInvokeResponse struct {
	InvocationID string           `json:"invocation_id"`
	Decision     PolicyDecision   `json:"decision"`
	PolicyID     string           `json:"policy_id,omitempty"`
	OverrideID   string           `json:"override_id,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Status       InvocationStatus `json:"status"`
}

// InvocationResultRequest represents a result submission from the agent layer.
type InvocationResultRequest struct {
	Status string          `json:"status"` // completed or failed
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// InvocationResultResponse represents the invocation after result intake.
type InvocationResultResponse struct {
	InvocationID string           `json:"invocation_id"`
	Status       InvocationStatus `json:"status"`
	CompletedAt  int64            `json:"completed_at,omitempty"`
}

// EventsResponse is the JSON replay response. RefreshRequired set means the
// window could not be served completely and Events is empty.
type EventsResponse struct {
	Events          []StreamEvent `json:"events"`
	RefreshRequired bool          `json:"refresh_required,omitempty"`
}
