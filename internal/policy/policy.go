// Package policy evaluates security rules against agent tool calls.
//
// Rules are pure predicates run in a fixed priority order. A rule that does
// not apply to a call returns nil; the first rule that vetoes wins. Only the
// evaluator's overall result carries allow semantics. An optional
// operator-supplied rego policy runs ahead of the built-in rules and can
// veto but never bypass them.
package policy

import (
	"context"

	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
)

// ExecContext carries the run identity and worktree the call executes in.
type ExecContext struct {
	RunID        string
	TaskID       string
	RepoID       string
	ProjectID    string
	WorktreeRoot string
}

// Decision is one rule's veto. The constraint fields identify the exact
// offending value so operators can grant a narrowly scoped override.
type Decision struct {
	Decision        domain.PolicyDecision
	PolicyID        string
	Reason          string
	ConstraintKind  string
	ConstraintValue string
}

// Rule inspects a tool call and optionally vetoes it. Irrelevant calls
// return nil.
type Rule interface {
	ID() string
	Evaluate(tool string, args map[string]interface{}, execCtx ExecContext) *Decision
}

// DefaultRules returns the built-in rule set in priority order.
func DefaultRules() []Rule {
	return []Rule{
		worktreeBoundaryRule{},
		protectedMetadataRule{},
		sensitiveFileWriteRule{},
		shellInjectionRule{},
	}
}

// Evaluator folds an ordered rule list over a tool call.
type Evaluator struct {
	rules  []Rule
	rego   *RegoEngine
	logger *zap.Logger
}

// NewEvaluator creates an evaluator over the given rules. The rego engine
// is optional.
func NewEvaluator(rules []Rule, regoEngine *RegoEngine, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{rules: rules, rego: regoEngine, logger: logger}
}

// Evaluate runs the rules in order and returns the first veto, or allow when
// no rule blocks. A failing rego evaluation is logged and falls through to
// the built-in rules, which always run.
func (e *Evaluator) Evaluate(ctx context.Context, tool string, args map[string]interface{}, execCtx ExecContext) Decision {
	if e.rego != nil {
		decision, err := e.rego.Evaluate(ctx, tool, args, execCtx)
		if err != nil {
			e.logger.Warn("rego evaluation failed, falling back to built-in rules",
				zap.String("tool", tool), zap.Error(err))
		} else if decision != nil && decision.Decision == domain.DecisionBlock {
			return *decision
		}
	}

	for _, rule := range e.rules {
		if decision := rule.Evaluate(tool, args, execCtx); decision != nil && decision.Decision == domain.DecisionBlock {
			return *decision
		}
	}
	return Decision{Decision: domain.DecisionAllow}
}

func block(policyID, reason, constraintKind, constraintValue string) *Decision {
	return &Decision{
		Decision:        domain.DecisionBlock,
		PolicyID:        policyID,
		Reason:          reason,
		ConstraintKind:  constraintKind,
		ConstraintValue: constraintValue,
	}
}
