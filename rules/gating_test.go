package rules

import "testing"

func TestGatingRules(t *testing.T) {
	engine, err := NewGatingEngine()
	if err != nil {
		t.Fatalf("NewGatingEngine() failed: %v", err)
	}

	tests := []struct {
		name      string
		facts     map[string]any
		wantMatch string
	}{
		{name: "new lead above lead threshold", facts: testFacts(true, 75, 0, "create_lead"), wantMatch: RuleCreateLead},
		{name: "new lead at lead threshold", facts: testFacts(true, 70, 0, "create_lead"), wantMatch: RuleCreateLead},
		{name: "new lead below lead threshold", facts: testFacts(true, 65, 0, "create_lead")},
		{name: "accept at move threshold", facts: testFacts(false, 0, 80, "move_to_accepted"), wantMatch: RuleMoveToAccepted},
		{name: "accept below move threshold", facts: testFacts(false, 0, 79, "move_to_accepted")},
		{name: "lost above move threshold", facts: testFacts(false, 0, 95, "move_to_lost"), wantMatch: RuleMoveToLost},
		{name: "lead rule wins over move", facts: testFacts(true, 90, 90, "move_to_accepted"), wantMatch: RuleCreateLead},
		{name: "unconfident lead falls through to move", facts: testFacts(true, 10, 90, "move_to_lost"), wantMatch: RuleMoveToLost},
		{name: "nothing suggested", facts: testFacts(false, 100, 100, "no_action")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, failed, err := engine.FirstMatch(tt.facts)
			if err != nil {
				t.Fatalf("FirstMatch() failed: %v", err)
			}
			if len(failed) > 0 {
				t.Fatalf("unexpected rule failures: %v", failed[0].Error)
			}
			got := ""
			if match != nil {
				got = match.RuleID
			}
			if got != tt.wantMatch {
				t.Errorf("matched %q, want %q", got, tt.wantMatch)
			}
		})
	}
}

func TestGatingRulesRespectAutoCreateToggle(t *testing.T) {
	engine, err := NewGatingEngine()
	if err != nil {
		t.Fatalf("NewGatingEngine() failed: %v", err)
	}

	facts := testFacts(true, 99, 0, "create_lead")
	facts[VarSettings] = map[string]any{"autoCreateLeads": false, "confidenceThreshold": 80}

	match, _, err := engine.FirstMatch(facts)
	if err != nil {
		t.Fatalf("FirstMatch() failed: %v", err)
	}
	if match != nil {
		t.Errorf("no rule should match with auto_create_leads off, got %s", match.RuleID)
	}
}
