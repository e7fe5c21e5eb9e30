// Package rules compiles and evaluates the CEL expressions that decide which
// pipeline automation fires for a classified call.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Fact variables available to every rule expression.
const (
	VarAnalysis   = "analysis"
	VarSettings   = "settings"
	VarThresholds = "thresholds"
)

// Engine manages the CEL environment and compiled rule programs.
// Safe for concurrent evaluation.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	programs map[string]cel.Program // ruleID -> compiled program
	mu       sync.RWMutex
}

// NewEngine creates a rules engine whose environment declares the automation
// fact variables as dynamic types
func NewEngine(store RuleStore) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarAnalysis, cel.DynType),
		cel.Variable(VarSettings, cel.DynType),
		cel.Variable(VarThresholds, cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return NewEngineWithEnv(env, store)
}

// NewEngineWithEnv creates a rules engine with a custom CEL environment and
// compiles every active rule in the store
func NewEngineWithEnv(env *cel.Env, store RuleStore) (*Engine, error) {
	en := &Engine{
		env:      env,
		store:    store,
		programs: make(map[string]cel.Program),
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// CompileRule compiles a single rule expression to a CEL program. Expressions
// must type-check to bool.
func (en *Engine) CompileRule(ruleID, expression string) error {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}

	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return fmt.Errorf("compile error: expression must evaluate to bool, got %s", ast.OutputType())
	}

	// Cost limit guards against runaway expressions
	prog, err := en.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(1000000),
	)
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[ruleID] = prog
	en.mu.Unlock()

	return nil
}

// CompileAllRules compiles all active rules from the store
func (en *Engine) CompileAllRules() error {
	rules, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := en.CompileRule(rule.ID, rule.Expression); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}

	return nil
}

// Evaluate evaluates a single rule against the provided facts. Non-boolean
// results count as not matched.
func (en *Engine) Evaluate(ruleID string, facts map[string]any) (*EvaluationResult, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	en.mu.RLock()
	prog, exists := en.programs[ruleID]
	en.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("rule %s is not compiled", ruleID)
	}

	result := en.run(rule, prog, facts)
	return result, result.Error
}

// EvaluateAll evaluates all active rules in priority order. Evaluation
// continues past rules that fail; their error is recorded in the result.
func (en *Engine) EvaluateAll(facts map[string]any) ([]*EvaluationResult, error) {
	rules, err := en.store.ListActive()
	if err != nil {
		return nil, err
	}

	results := make([]*EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		en.mu.RLock()
		prog, exists := en.programs[rule.ID]
		en.mu.RUnlock()

		if !exists {
			results = append(results, &EvaluationResult{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Matched:  false,
				Error:    fmt.Errorf("rule %s is not compiled", rule.ID),
			})
			continue
		}

		results = append(results, en.run(rule, prog, facts))
	}

	return results, nil
}

// FirstMatch returns the highest-priority active rule that matches, or nil.
// Rules that fail to evaluate are skipped and returned in failed.
func (en *Engine) FirstMatch(facts map[string]any) (match *EvaluationResult, failed []*EvaluationResult, err error) {
	results, err := en.EvaluateAll(facts)
	if err != nil {
		return nil, nil, err
	}

	for _, r := range results {
		if r.Error != nil {
			failed = append(failed, r)
			continue
		}
		if r.Matched {
			return r, failed, nil
		}
	}
	return nil, failed, nil
}

func (en *Engine) run(rule *Rule, prog cel.Program, facts map[string]any) *EvaluationResult {
	out, details, err := prog.Eval(facts)
	if err != nil {
		return &EvaluationResult{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Matched:  false,
			Error:    err,
		}
	}

	matched := false
	if boolVal, ok := out.Value().(bool); ok {
		matched = boolVal
	}

	var trace any
	if details != nil {
		trace = details.State()
	}

	return &EvaluationResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Matched:  matched,
		Trace:    trace,
	}
}

// AddRule validates that a rule compiles, then stores it
func (en *Engine) AddRule(r *Rule) error {
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}

	if err := en.CompileRule(r.ID, r.Expression); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Add(r); err != nil {
		// Remove from compiled programs if store fails
		en.mu.Lock()
		delete(en.programs, r.ID)
		en.mu.Unlock()
		return err
	}

	return nil
}

// UpdateRule recompiles and stores an existing rule
func (en *Engine) UpdateRule(r *Rule) error {
	if err := en.CompileRule(r.ID, r.Expression); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	return en.store.Update(r)
}

// DeleteRule removes a rule from the store and compiled programs
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()

	return nil
}
