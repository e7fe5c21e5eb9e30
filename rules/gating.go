package rules

import "fmt"

// Built-in gating rule IDs. The pipeline automator maps a match on one of
// these to the corresponding action.
const (
	RuleCreateLead     = "create_lead"
	RuleMoveToAccepted = "move_to_accepted"
	RuleMoveToLost     = "move_to_lost"
)

// GatingRules returns the default call-automation rules. Lead creation is
// checked before stage moves.
//
// Facts shape:
//
//	analysis:   isNewLead, leadConfidence, intentConfidence, suggestedAction, customerIntent
//	settings:   autoCreateLeads, confidenceThreshold
//	thresholds: lead, move
func GatingRules() []*Rule {
	return []*Rule{
		{
			ID:       RuleCreateLead,
			Name:     "Create lead from confident new-customer call",
			Priority: 10,
			Active:   true,
			Expression: `analysis.isNewLead && settings.autoCreateLeads &&
				analysis.leadConfidence >= thresholds.lead`,
		},
		{
			ID:       RuleMoveToAccepted,
			Name:     "Move deal to accepted",
			Priority: 20,
			Active:   true,
			Expression: `analysis.suggestedAction == "move_to_accepted" &&
				analysis.intentConfidence >= thresholds.move`,
		},
		{
			ID:       RuleMoveToLost,
			Name:     "Move deal to lost",
			Priority: 30,
			Active:   true,
			Expression: `analysis.suggestedAction == "move_to_lost" &&
				analysis.intentConfidence >= thresholds.move`,
		},
	}
}

// NewGatingEngine returns an engine loaded with GatingRules.
func NewGatingEngine() (*Engine, error) {
	engine, err := NewEngine(NewInMemoryRuleStore())
	if err != nil {
		return nil, err
	}

	for _, r := range GatingRules() {
		if err := engine.AddRule(r); err != nil {
			return nil, fmt.Errorf("failed to add gating rule %s: %w", r.ID, err)
		}
	}
	return engine, nil
}
