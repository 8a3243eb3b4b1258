package domain

import (
	"encoding/json"
	"time"
)

// Run represents one workflow instance driving a task through the lifecycle.
type Run struct {
	RunID         string          `json:"run_id"`
	TaskID        string          `json:"task_id"`
	ProjectID     string          `json:"project_id"`
	RepoID        string          `json:"repo_id"`
	Phase         RunPhase        `json:"phase"`
	Step          string          `json:"step,omitempty"`
	Status        RunStatus       `json:"status"`
	BlockedReason BlockedReason   `json:"blocked_reason,omitempty"`
	BlockedCtx    *BlockedContext `json:"blocked_context,omitempty"`
	LastEventSeq  int64           `json:"last_event_seq"`
	Branch        string          `json:"branch,omitempty"`
	BaseBranch    string          `json:"base_branch,omitempty"`
	PlanRevisions int             `json:"plan_revisions"`
	ReviewRounds  int             `json:"review_rounds"`
	Result        string          `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BlockedContext carries the machine-readable detail recorded when a run
// enters blocked. From is the phase the run can be resumed into.
type BlockedContext struct {
	From           RunPhase `json:"from"`
	Gate           string   `json:"gate,omitempty"`
	PolicyID       string   `json:"policy_id,omitempty"`
	ConstraintKind string   `json:"constraint_kind,omitempty"`
	ConstraintHash string   `json:"constraint_hash,omitempty"`
	Detail         string   `json:"detail,omitempty"`
}

// Artifact is an agent-produced document tied to a run.
type Artifact struct {
	ArtifactID         string           `json:"artifact_id"`
	RunID              string           `json:"run_id"`
	Type               ArtifactType     `json:"type"`
	Content            string           `json:"content"`
	ValidationStatus   ValidationStatus `json:"validation_status"`
	SourceInvocationID string           `json:"source_invocation_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// OperatorAction is one audit-logged human decision. Append-only.
type OperatorAction struct {
	ActionID      string     `json:"action_id"`
	RunID         string     `json:"run_id"`
	Action        ActionType `json:"action"`
	Operator      string     `json:"operator"`
	Justification string     `json:"justification,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Override is a scoped policy or gate exception granted by an operator.
// An override with no constraint fields is a wildcard for its kind/target.
type Override struct {
	OverrideID     string        `json:"override_id"`
	Kind           OverrideKind  `json:"kind"`
	TargetID       string        `json:"target_id,omitempty"`
	Scope          OverrideScope `json:"scope"`
	RunID          string        `json:"run_id,omitempty"`
	TaskID         string        `json:"task_id,omitempty"`
	RepoID         string        `json:"repo_id,omitempty"`
	ProjectID      string        `json:"project_id"`
	ConstraintKind string        `json:"constraint_kind,omitempty"`
	ConstraintHash string        `json:"constraint_hash,omitempty"`
	ConstraintHint string        `json:"constraint_hint,omitempty"`
	Operator       string        `json:"operator"`
	Justification  string        `json:"justification,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Expired reports whether the override is past its expiry at the given time.
func (o *Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// ToolInvocation is one attempted tool call by an agent. Arguments are stored
// redacted, alongside a hash of the raw form for override matching.
type ToolInvocation struct {
	InvocationID   string           `json:"invocation_id"`
	RunID          string           `json:"run_id"`
	Tool           string           `json:"tool"`
	RedactedArgs   json.RawMessage  `json:"redacted_args,omitempty"`
	ArgsHash       string           `json:"args_hash,omitempty"`
	PolicyDecision PolicyDecision   `json:"policy_decision"`
	PolicyID       string           `json:"policy_id,omitempty"`
	OverrideID     string           `json:"override_id,omitempty"`
	Status         InvocationStatus `json:"status"`
	Result         json.RawMessage  `json:"result,omitempty"`
	Error          json.RawMessage  `json:"error,omitempty"`
	TimeoutMs      int              `json:"timeout_ms"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}
