// Package queue dispatches runs to the agent worker layer over the bus.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/windrose-labs/conductor/internal/domain"
)

// DispatchSubject carries run dispatch requests for worker processes.
const DispatchSubject = "runs.dispatch"

// DispatchRequest is the message workers consume to start driving a run.
type DispatchRequest struct {
	RunID      string          `json:"run_id"`
	TaskID     string          `json:"task_id"`
	ProjectID  string          `json:"project_id"`
	RepoID     string          `json:"repo_id"`
	Phase      domain.RunPhase `json:"phase"`
	Branch     string          `json:"branch,omitempty"`
	BaseBranch string          `json:"base_branch,omitempty"`
}

type Client struct {
	nc           *nats.Conn
	flushTimeout time.Duration
}

func NewClient(nc *nats.Conn) *Client {
	return &Client{nc: nc, flushTimeout: 5 * time.Second}
}

// Enqueue publishes a dispatch request and flushes, so a dead bus surfaces
// as an error here instead of silently dropping the run.
func (c *Client) Enqueue(ctx context.Context, run *domain.Run) error {
	data, err := json.Marshal(DispatchRequest{
		RunID:      run.RunID,
		TaskID:     run.TaskID,
		ProjectID:  run.ProjectID,
		RepoID:     run.RepoID,
		Phase:      run.Phase,
		Branch:     run.Branch,
		BaseBranch: run.BaseBranch,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch request: %w", err)
	}
	if err := c.nc.Publish(DispatchSubject, data); err != nil {
		return fmt.Errorf("failed to publish dispatch request: %w", err)
	}
	if err := c.nc.FlushTimeout(c.flushTimeout); err != nil {
		return fmt.Errorf("failed to flush dispatch request: %w", err)
	}
	return nil
}
