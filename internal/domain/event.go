package domain

import "encoding/json"

// StreamEvent is a durable, sequence-numbered fact. ID is the global replay
// cursor; RunSeq is the run's own gapless event counter at emit time.
type StreamEvent struct {
	ID        int64           `json:"id"`
	Kind      EventKind       `json:"kind"`
	ProjectID string          `json:"project_id"`
	RunID     string          `json:"run_id,omitempty"`
	RunSeq    int64           `json:"run_seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Ts        int64           `json:"ts"` // Unix milliseconds
}

// RunCreatedPayload is the payload for run_created events.
type RunCreatedPayload struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	RepoID    string `json:"repo_id"`
	Branch    string `json:"branch,omitempty"`
}

// PhaseTransitionPayload is the payload for phase_transition events.
type PhaseTransitionPayload struct {
	From RunPhase `json:"from"`
	To   RunPhase `json:"to"`
	Step string   `json:"step,omitempty"`
}

// RunBlockedPayload is the payload for run_blocked events.
type RunBlockedPayload struct {
	Reason  BlockedReason   `json:"reason"`
	Context *BlockedContext `json:"context,omitempty"`
}

// GateResultPayload is the payload for gate_passed and gate_failed events.
type GateResultPayload struct {
	Gate   string     `json:"gate"`
	Status GateStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// OperatorActionPayload is the payload for operator_action events.
type OperatorActionPayload struct {
	ActionID string     `json:"action_id"`
	Action   ActionType `json:"action"`
	Operator string     `json:"operator"`
}

// ArtifactAddedPayload is the payload for artifact_added events.
type ArtifactAddedPayload struct {
	ArtifactID       string           `json:"artifact_id"`
	Type             ArtifactType     `json:"type"`
	ValidationStatus ValidationStatus `json:"validation_status"`
}

// ToolDeniedPayload is the payload for tool_denied events.
type ToolDeniedPayload struct {
	InvocationID string `json:"invocation_id"`
	Tool         string `json:"tool"`
	PolicyID     string `json:"policy_id"`
	Reason       string `json:"reason,omitempty"`
}

// OverrideGrantedPayload is the payload for override_granted events.
type OverrideGrantedPayload struct {
	OverrideID string        `json:"override_id"`
	Kind       OverrideKind  `json:"kind"`
	TargetID   string        `json:"target_id,omitempty"`
	Scope      OverrideScope `json:"scope"`
}
