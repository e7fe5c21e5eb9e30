// Package pipeline turns classified phone calls into sales-pipeline changes.
// A call's CallAnalysis is gated against the tenant's confidence thresholds
// before any deal is created or moved.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Intent is what the caller wanted, as judged by the classifier.
type Intent string

const (
	IntentNewJob       Intent = "new_job"
	IntentAcceptQuote  Intent = "accept_quote"
	IntentDeclineQuote Intent = "decline_quote"
	IntentReschedule   Intent = "reschedule"
	IntentQuestion     Intent = "question"
	IntentComplaint    Intent = "complaint"
	IntentUnclear      Intent = "unclear"
)

var intents = map[Intent]struct{}{
	IntentNewJob: {}, IntentAcceptQuote: {}, IntentDeclineQuote: {}, IntentReschedule: {},
	IntentQuestion: {}, IntentComplaint: {}, IntentUnclear: {},
}

// SuggestedAction is the pipeline change the classifier recommends.
type SuggestedAction string

const (
	SuggestCreateLead       SuggestedAction = "create_lead"
	SuggestMoveToAccepted   SuggestedAction = "move_to_accepted"
	SuggestMoveToLost       SuggestedAction = "move_to_lost"
	SuggestScheduleCallback SuggestedAction = "schedule_callback"
	SuggestNoAction         SuggestedAction = "no_action"
)

var suggestions = map[SuggestedAction]struct{}{
	SuggestCreateLead: {}, SuggestMoveToAccepted: {}, SuggestMoveToLost: {},
	SuggestScheduleCallback: {}, SuggestNoAction: {},
}

// Urgency of the job described in the call.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// ExtractedInfo holds the customer details the classifier pulled out of the transcript.
type ExtractedInfo struct {
	Name           string  `json:"name,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	Address        string  `json:"address,omitempty"`
	JobDescription string  `json:"jobDescription,omitempty"`
	Urgency        Urgency `json:"urgency,omitempty"`
	PreferredDate  string  `json:"preferredDate,omitempty"`
}

// CallAnalysis is the structured classifier verdict for one call.
type CallAnalysis struct {
	IsNewLead        bool            `json:"isNewLead"`
	LeadConfidence   int             `json:"leadConfidence"`
	CustomerIntent   Intent          `json:"customerIntent"`
	IntentConfidence int             `json:"intentConfidence"`
	SuggestedAction  SuggestedAction `json:"suggestedAction"`
	ExtractedInfo    ExtractedInfo   `json:"extractedInfo"`
	Reasoning        string          `json:"reasoning"`
}

// UnclearAnalysis is used whenever the classifier fails or its output can't
// be trusted. It never leads to a pipeline change.
func UnclearAnalysis() CallAnalysis {
	return CallAnalysis{
		CustomerIntent:  IntentUnclear,
		SuggestedAction: SuggestNoAction,
		ExtractedInfo:   ExtractedInfo{Urgency: UrgencyNormal},
	}
}

// Confidence is the score reported for the analysis: lead confidence for new
// leads, intent confidence otherwise.
func (a CallAnalysis) Confidence() int {
	if a.IsNewLead {
		return a.LeadConfidence
	}
	return a.IntentConfidence
}

// Facts flattens the analysis into the CEL fact shape the gating rules read.
func (a CallAnalysis) Facts() map[string]any {
	return map[string]any{
		"isNewLead":        a.IsNewLead,
		"leadConfidence":   a.LeadConfidence,
		"intentConfidence": a.IntentConfidence,
		"suggestedAction":  string(a.SuggestedAction),
		"customerIntent":   string(a.CustomerIntent),
	}
}

var requiredKeys = []string{"isNewLead", "leadConfidence", "customerIntent", "intentConfidence", "suggestedAction"}

var allowedKeys = map[string]struct{}{
	"isNewLead": {}, "leadConfidence": {}, "customerIntent": {}, "intentConfidence": {},
	"suggestedAction": {}, "extractedInfo": {}, "reasoning": {},
}

// ParseAnalysis extracts the first JSON object from raw classifier text and
// validates it. Unknown intents become unclear, unknown actions become
// no_action and unknown urgencies become normal. Missing keys, unexpected
// keys or confidences outside 0-100 are errors.
func ParseAnalysis(content string) (CallAnalysis, error) {
	obj := extractJSONObject(content)
	if obj == "" {
		return CallAnalysis{}, errors.New("no json object found")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return CallAnalysis{}, err
	}
	for key := range raw {
		if _, ok := allowedKeys[key]; !ok {
			return CallAnalysis{}, fmt.Errorf("unexpected key %q", key)
		}
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return CallAnalysis{}, fmt.Errorf("missing key %q", key)
		}
	}

	var wire struct {
		IsNewLead        bool          `json:"isNewLead"`
		LeadConfidence   float64       `json:"leadConfidence"`
		CustomerIntent   string        `json:"customerIntent"`
		IntentConfidence float64       `json:"intentConfidence"`
		SuggestedAction  string        `json:"suggestedAction"`
		ExtractedInfo    ExtractedInfo `json:"extractedInfo"`
		Reasoning        string        `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return CallAnalysis{}, err
	}

	lead, err := confidence("leadConfidence", wire.LeadConfidence)
	if err != nil {
		return CallAnalysis{}, err
	}
	intent, err := confidence("intentConfidence", wire.IntentConfidence)
	if err != nil {
		return CallAnalysis{}, err
	}

	out := CallAnalysis{
		IsNewLead:        wire.IsNewLead,
		LeadConfidence:   lead,
		CustomerIntent:   normalizeIntent(wire.CustomerIntent),
		IntentConfidence: intent,
		SuggestedAction:  normalizeSuggestion(wire.SuggestedAction),
		ExtractedInfo:    wire.ExtractedInfo,
		Reasoning:        strings.TrimSpace(wire.Reasoning),
	}
	out.ExtractedInfo.Name = strings.TrimSpace(out.ExtractedInfo.Name)
	out.ExtractedInfo.Urgency = normalizeUrgency(string(out.ExtractedInfo.Urgency))
	return out, nil
}

func confidence(key string, v float64) (int, error) {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return 0, fmt.Errorf("%s must be between 0 and 100, got %v", key, v)
	}
	return int(math.Round(v)), nil
}

func normalizeIntent(s string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intents[i]; ok {
		return i
	}
	return IntentUnclear
}

func normalizeSuggestion(s string) SuggestedAction {
	a := SuggestedAction(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := suggestions[a]; ok {
		return a
	}
	return SuggestNoAction
}

func normalizeUrgency(s string) Urgency {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyLow, UrgencyHigh, UrgencyEmergency:
		return u
	default:
		return UrgencyNormal
	}
}

// extractJSONObject returns the first balanced {...} in input, skipping
// braces inside strings.
func extractJSONObject(input string) string {
	start := strings.Index(input, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
		}
	}
	return ""
}
