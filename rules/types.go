package rules

import "time"

// Rule is a named CEL expression evaluated against automation facts.
// Lower Priority values are evaluated first.
type Rule struct {
	ID         string
	Name       string
	Expression string
	Priority   int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EvaluationResult contains the outcome of evaluating a rule
type EvaluationResult struct {
	RuleID   string
	RuleName string
	Matched  bool
	Error    error
	Trace    any // CEL evaluation state (optional)
}
