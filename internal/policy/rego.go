package policy

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

// RegoEngine evaluates an operator-supplied rego policy. The policy module
// must define data.conductor.guard.decision as either the string "block" or
// an object {"decision": "block", "reason": "..."}. Any other result means
// the policy has no opinion and the built-in rules decide.
type RegoEngine struct {
	mu     sync.RWMutex
	query  rego.PreparedEvalQuery
	path   string
	logger *zap.Logger
}

// NewRegoEngine loads and prepares the policy at path.
func NewRegoEngine(ctx context.Context, path string, logger *zap.Logger) (*RegoEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &RegoEngine{path: path, logger: logger}
	if err := engine.reload(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

func (e *RegoEngine) reload(ctx context.Context) error {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	r := rego.New(
		rego.Query("data.conductor.guard.decision"),
		rego.Module("guard.rego", string(content)),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare rego: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()
	return nil
}

// Evaluate runs the prepared query against the tool call. A nil decision
// means the policy has no opinion.
func (e *RegoEngine) Evaluate(ctx context.Context, tool string, args map[string]interface{}, execCtx ExecContext) (*Decision, error) {
	input := map[string]interface{}{
		"tool":       tool,
		"args":       args,
		"run_id":     execCtx.RunID,
		"task_id":    execCtx.TaskID,
		"repo_id":    execCtx.RepoID,
		"project_id": execCtx.ProjectID,
	}

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	switch value := results[0].Expressions[0].Value.(type) {
	case string:
		if value == "block" {
			return block("rego_guard", "blocked by operator policy", "", ""), nil
		}
	case map[string]interface{}:
		decision, _ := value["decision"].(string)
		if decision == "block" {
			reason, _ := value["reason"].(string)
			if reason == "" {
				reason = "blocked by operator policy"
			}
			return block("rego_guard", reason, "", ""), nil
		}
	}
	return nil, nil
}

// Watch reloads the policy whenever the file changes. It blocks until ctx is
// cancelled; a reload failure keeps the previous query in place.
func (e *RegoEngine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(e.path); err != nil {
		return fmt.Errorf("failed to watch policy file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := e.reload(ctx); err != nil {
				e.logger.Warn("policy reload failed, keeping previous policy",
					zap.String("path", e.path), zap.Error(err))
				continue
			}
			e.logger.Info("policy reloaded", zap.String("path", e.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}
