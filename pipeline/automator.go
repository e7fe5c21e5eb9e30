package pipeline

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/verkstad/dashboard/automation"
	"github.com/verkstad/dashboard/internal/logger"
	"github.com/verkstad/dashboard/rules"
)

// Action is what an automation run did.
type Action string

const (
	ActionSkipped         Action = "skipped"
	ActionCreatedLead     Action = "created_lead"
	ActionMovedToAccepted Action = "moved_to_accepted"
	ActionMovedToLost     Action = "moved_to_lost"
	ActionMovedToPaid     Action = "moved_to_paid"
	ActionNoAction        Action = "no_action"
	ActionDuplicate       Action = "duplicate"
)

// Reason explains a skipped or no_action outcome.
type Reason string

const (
	ReasonBelowThreshold      Reason = "below_threshold"
	ReasonNoMatchingDeal      Reason = "no_matching_deal"
	ReasonAlreadyInStage      Reason = "already_in_stage"
	ReasonClassifierFailed    Reason = "classifier_failed"
	ReasonStoreError          Reason = "store_error"
	ReasonRulesError          Reason = "rules_error"
	ReasonAutomationDisabled  Reason = "automation_disabled"
	ReasonSettingsUnavailable Reason = "settings_unavailable"
)

// Outcome is the result of one automation run. Failures are reported here
// rather than as errors so the triggering event is never lost.
type Outcome struct {
	Action     Action `json:"action"`
	DealID     string `json:"dealId,omitempty"`
	Confidence int    `json:"confidence"`
	Reason     Reason `json:"reason,omitempty"`
}

// Retryable reports whether the run failed on something transient, so the
// same event may be processed again.
func (o Outcome) Retryable() bool {
	switch o.Reason {
	case ReasonClassifierFailed, ReasonStoreError, ReasonRulesError:
		return true
	}
	return false
}

// CallEvent is emitted once a call recording has been transcribed.
type CallEvent struct {
	CallID      string `json:"callId"`
	TenantID    string `json:"businessId"`
	Transcript  string `json:"transcript"`
	CallerPhone string `json:"callerPhone"`
}

// SettingsReader supplies the effective automation settings of a business.
type SettingsReader interface {
	Get(ctx context.Context, businessID string) (automation.Settings, error)
}

// Deduper reports whether a key is seen for the first time. Release forgets
// a key so the event can be processed again.
type Deduper interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Automator applies the pipeline automations of a business.
type Automator struct {
	settings   SettingsReader
	classifier Classifier
	deals      DealStore
	engine     *rules.Engine
	dedup      Deduper
}

// NewAutomator wires an automator. engine decides which call automation
// fires, usually rules.NewGatingEngine. dedup may be nil.
func NewAutomator(settings SettingsReader, classifier Classifier, deals DealStore, engine *rules.Engine, dedup Deduper) *Automator {
	return &Automator{
		settings:   settings,
		classifier: classifier,
		deals:      deals,
		engine:     engine,
		dedup:      dedup,
	}
}

// ProcessClassifiedCall classifies a transcribed call and, when the result
// clears the business's thresholds, creates a lead or moves the caller's
// latest deal.
func (a *Automator) ProcessClassifiedCall(ctx context.Context, ev CallEvent) Outcome {
	s, err := a.settings.Get(ctx, ev.TenantID)
	if err != nil {
		logger.Error("failed to load automation settings", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		return Outcome{Action: ActionSkipped, Reason: ReasonSettingsUnavailable}
	}
	if !s.AIAnalyzeCalls {
		return Outcome{Action: ActionSkipped, Reason: ReasonAutomationDisabled}
	}

	var key string
	if a.dedup != nil && ev.CallID != "" {
		isNew, err := a.dedup.IsNew(ctx, ev.TenantID+":"+ev.CallID)
		switch {
		case err != nil:
			logger.Warn("call dedup unavailable, processing anyway", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		case !isNew:
			logger.Info("duplicate call event ignored", "business_id", ev.TenantID, "call_id", ev.CallID)
			return Outcome{Action: ActionDuplicate}
		default:
			key = ev.TenantID + ":" + ev.CallID
		}
	}

	out := a.classifyAndApply(ctx, ev, s)

	// A failed run must stay redeliverable.
	if key != "" && out.Retryable() {
		if err := a.dedup.Release(ctx, key); err != nil {
			logger.Warn("failed to release call dedup key", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		}
	}
	return out
}

func (a *Automator) classifyAndApply(ctx context.Context, ev CallEvent, s automation.Settings) Outcome {
	phone := NormalizePhone(ev.CallerPhone)
	customer := a.customerContext(ctx, ev.TenantID, phone)

	analysis, err := a.classifier.Classify(ctx, ev.Transcript, customer)
	if err != nil {
		logger.ErrorClassifier("call classification failed", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		return outcomeFor(UnclearAnalysis(), ReasonClassifierFailed)
	}

	facts := map[string]any{
		rules.VarAnalysis: analysis.Facts(),
		rules.VarSettings: map[string]any{
			"autoCreateLeads":     s.AutoCreateLeads,
			"confidenceThreshold": s.AIConfidenceThreshold,
		},
		rules.VarThresholds: map[string]any{
			"lead": s.LeadThreshold(),
			"move": s.AIConfidenceThreshold,
		},
	}

	match, failed, err := a.engine.FirstMatch(facts)
	for _, f := range failed {
		logger.Warn("gating rule failed to evaluate", "rule_id", f.RuleID, "call_id", ev.CallID, "error", f.Error)
	}
	if err != nil {
		logger.Error("failed to evaluate gating rules", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		return outcomeFor(analysis, ReasonRulesError)
	}

	if match == nil {
		reason := ReasonBelowThreshold
		if analysis.IsNewLead && !s.AutoCreateLeads && analysis.LeadConfidence >= s.LeadThreshold() {
			reason = ReasonAutomationDisabled
		}
		logger.Info("call did not trigger automation",
			"business_id", ev.TenantID,
			"call_id", ev.CallID,
			"suggested_action", analysis.SuggestedAction,
			"confidence", analysis.Confidence(),
			"reason", reason,
		)
		return outcomeFor(analysis, reason)
	}

	switch match.RuleID {
	case rules.RuleCreateLead:
		return a.createLead(ctx, ev, phone, analysis)
	case rules.RuleMoveToAccepted:
		return a.moveCallerDeal(ctx, ev, phone, analysis, StageAccepted, ActionMovedToAccepted)
	case rules.RuleMoveToLost:
		return a.moveCallerDeal(ctx, ev, phone, analysis, StageLost, ActionMovedToLost)
	default:
		logger.Warn("gating rule has no automation", "rule_id", match.RuleID, "call_id", ev.CallID)
		return outcomeFor(analysis, ReasonBelowThreshold)
	}
}

// OnQuoteAccepted moves a deal to accepted when the business has that automation on.
func (a *Automator) OnQuoteAccepted(ctx context.Context, tenantID, dealID string) Outcome {
	return a.onEvent(ctx, tenantID, dealID, StageAccepted, ActionMovedToAccepted, TriggeredByQuoteAccepted,
		func(s automation.Settings) bool { return s.PipelineMoveOnQuoteAccepted })
}

// OnInvoicePaid moves a deal to paid when the business has that automation on.
func (a *Automator) OnInvoicePaid(ctx context.Context, tenantID, dealID string) Outcome {
	return a.onEvent(ctx, tenantID, dealID, StagePaid, ActionMovedToPaid, TriggeredByInvoicePaid,
		func(s automation.Settings) bool { return s.PipelineMoveOnPayment })
}

func (a *Automator) onEvent(ctx context.Context, tenantID, dealID string, to StageSlug, action Action, trigger string, enabled func(automation.Settings) bool) Outcome {
	s, err := a.settings.Get(ctx, tenantID)
	if err != nil {
		logger.Error("failed to load automation settings", "business_id", tenantID, "deal_id", dealID, "error", err)
		return Outcome{Action: ActionSkipped, Reason: ReasonSettingsUnavailable}
	}
	if !enabled(s) {
		return Outcome{Action: ActionSkipped, DealID: dealID, Reason: ReasonAutomationDisabled}
	}

	deal, err := a.deals.GetDeal(ctx, tenantID, dealID)
	if errors.Is(err, ErrDealNotFound) {
		logger.Info("no deal for pipeline event", "business_id", tenantID, "deal_id", dealID, "trigger", trigger)
		return Outcome{Action: ActionNoAction, Reason: ReasonNoMatchingDeal}
	}
	if err != nil {
		logger.Error("failed to load deal", "business_id", tenantID, "deal_id", dealID, "error", err)
		return Outcome{Action: ActionNoAction, DealID: dealID, Reason: ReasonStoreError}
	}

	return a.move(ctx, deal, &Transition{ToStage: to, TriggeredBy: trigger}, action, 0)
}

func (a *Automator) customerContext(ctx context.Context, tenantID, phone string) *CustomerContext {
	if phone == "" {
		return nil
	}
	deals, err := a.deals.ListByPhone(ctx, tenantID, phone)
	if err != nil {
		logger.Warn("failed to load caller history", "business_id", tenantID, "error", err)
		return nil
	}
	if len(deals) == 0 {
		return nil
	}

	c := &CustomerContext{}
	for _, d := range deals {
		if c.Name == "" {
			c.Name = d.CustomerName
		}
		c.DealTitles = append(c.DealTitles, d.Title)
	}
	return c
}

func (a *Automator) createLead(ctx context.Context, ev CallEvent, phone string, analysis CallAnalysis) Outcome {
	info := analysis.ExtractedInfo
	if phone == "" {
		phone = NormalizePhone(info.Phone)
	}

	d := &Deal{
		BusinessID:    ev.TenantID,
		Title:         leadTitle(info, phone),
		Description:   strings.TrimSpace(info.JobDescription),
		CustomerName:  info.Name,
		CustomerPhone: phone,
		Stage:         StageLead,
		Priority:      PriorityFor(info.Urgency),
		Source:        SourceAICall,
		CallID:        ev.CallID,
	}
	if err := a.deals.CreateDeal(ctx, d); err != nil {
		logger.Error("failed to create lead from call", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		return outcomeFor(analysis, ReasonStoreError)
	}

	logger.AutomationActions.Add(1)
	logger.Info("lead created from call",
		"business_id", ev.TenantID,
		"call_id", ev.CallID,
		"deal_id", d.ID,
		"confidence", analysis.LeadConfidence,
	)
	return Outcome{Action: ActionCreatedLead, DealID: d.ID, Confidence: analysis.LeadConfidence}
}

// moveCallerDeal moves the caller's most recent deal. A caller without deals
// is left alone; no deal is created to have something to move.
func (a *Automator) moveCallerDeal(ctx context.Context, ev CallEvent, phone string, analysis CallAnalysis, to StageSlug, action Action) Outcome {
	conf := analysis.IntentConfidence
	if phone == "" {
		return Outcome{Action: ActionNoAction, Confidence: conf, Reason: ReasonNoMatchingDeal}
	}

	deal, err := a.deals.LatestByPhone(ctx, ev.TenantID, phone)
	if errors.Is(err, ErrDealNotFound) {
		logger.Info("no deal for caller, stage move skipped", "business_id", ev.TenantID, "call_id", ev.CallID, "to_stage", to)
		return Outcome{Action: ActionNoAction, Confidence: conf, Reason: ReasonNoMatchingDeal}
	}
	if err != nil {
		logger.Error("failed to look up caller deal", "business_id", ev.TenantID, "call_id", ev.CallID, "error", err)
		return Outcome{Action: ActionNoAction, Confidence: conf, Reason: ReasonStoreError}
	}

	t := &Transition{
		ToStage:      to,
		TriggeredBy:  TriggeredByAI,
		AIConfidence: &conf,
		AIReasoning:  analysis.Reasoning,
		CallID:       ev.CallID,
	}
	return a.move(ctx, deal, t, action, conf)
}

func (a *Automator) move(ctx context.Context, deal *Deal, t *Transition, action Action, conf int) Outcome {
	if deal.Stage == t.ToStage {
		return Outcome{Action: ActionNoAction, DealID: deal.ID, Confidence: conf, Reason: ReasonAlreadyInStage}
	}

	t.DealID = deal.ID
	t.BusinessID = deal.BusinessID
	if err := a.deals.MoveToStage(ctx, t); err != nil {
		logger.Error("failed to move deal",
			"business_id", deal.BusinessID,
			"deal_id", deal.ID,
			"to_stage", t.ToStage,
			"error", err,
		)
		return Outcome{Action: ActionNoAction, DealID: deal.ID, Confidence: conf, Reason: ReasonStoreError}
	}

	logger.AutomationActions.Add(1)
	logger.Info("deal moved",
		"business_id", deal.BusinessID,
		"deal_id", deal.ID,
		"from_stage", t.FromStage,
		"to_stage", t.ToStage,
		"triggered_by", t.TriggeredBy,
	)
	return Outcome{Action: action, DealID: deal.ID, Confidence: conf}
}

func outcomeFor(analysis CallAnalysis, reason Reason) Outcome {
	return Outcome{Action: ActionNoAction, Confidence: analysis.Confidence(), Reason: reason}
}

const maxTitleRunes = 80

func leadTitle(info ExtractedInfo, phone string) string {
	title := strings.Join(strings.Fields(info.JobDescription), " ")
	if title == "" {
		title = "Ny förfrågan"
	}
	if info.Name != "" {
		title += " - " + info.Name
	} else if phone != "" {
		title += " - " + phone
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes-1]) + "…"
	}
	return title
}
