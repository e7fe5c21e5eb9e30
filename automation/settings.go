// Package automation holds the per-tenant automation settings that switch
// AI call handling, pipeline moves and SMS flows on and off.
package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Settings is the automation configuration of a single business.
// Timestamps are nil until the record has been saved.
type Settings struct {
	BusinessID string `json:"business_id" yaml:"-"`

	AIAnalyzeCalls              bool `json:"ai_analyze_calls" yaml:"ai_analyze_calls"`
	AutoCreateLeads             bool `json:"auto_create_leads" yaml:"auto_create_leads"`
	PipelineMoveOnQuoteAccepted bool `json:"pipeline_move_on_quote_accepted" yaml:"pipeline_move_on_quote_accepted"`
	PipelineMoveOnPayment       bool `json:"pipeline_move_on_payment" yaml:"pipeline_move_on_payment"`

	SMSBookingConfirmation bool `json:"sms_booking_confirmation" yaml:"sms_booking_confirmation"`
	SMSBookingReminder     bool `json:"sms_booking_reminder" yaml:"sms_booking_reminder"`
	SMSQuoteFollowup       bool `json:"sms_quote_followup" yaml:"sms_quote_followup"`
	SMSInvoiceReminder     bool `json:"sms_invoice_reminder" yaml:"sms_invoice_reminder"`
	SMSReviewRequest       bool `json:"sms_review_request" yaml:"sms_review_request"`
	SMSMissedCall          bool `json:"sms_missed_call" yaml:"sms_missed_call"`

	AIConfidenceThreshold int    `json:"ai_confidence_threshold" yaml:"ai_confidence_threshold"`
	QuietHoursStart       string `json:"quiet_hours_start" yaml:"quiet_hours_start"`
	QuietHoursEnd         string `json:"quiet_hours_end" yaml:"quiet_hours_end"`
	MaxSMSPerCustomerWeek int    `json:"max_sms_per_customer_week" yaml:"max_sms_per_customer_week"`

	CreatedAt *time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// DefaultSettings returns the settings a business gets before it has saved
// any of its own. Every call returns a fresh value.
func DefaultSettings() Settings {
	return Settings{
		AIAnalyzeCalls:              true,
		AutoCreateLeads:             true,
		PipelineMoveOnQuoteAccepted: true,
		PipelineMoveOnPayment:       true,

		SMSBookingConfirmation: true,
		SMSBookingReminder:     true,
		SMSQuoteFollowup:       true,
		SMSInvoiceReminder:     true,
		SMSReviewRequest:       true,
		SMSMissedCall:          true,

		AIConfidenceThreshold: 80,
		QuietHoursStart:       "21:00",
		QuietHoursEnd:         "07:00",
		MaxSMSPerCustomerWeek: 3,
	}
}

// LeadThreshold is the confidence needed to create a lead automatically: ten
// points below the move threshold, never below 50.
func (s Settings) LeadThreshold() int {
	return max(s.AIConfidenceThreshold-10, 50)
}

// Validate checks ranges and formats of the numeric and time fields.
func (s Settings) Validate() error {
	if s.AIConfidenceThreshold < 0 || s.AIConfidenceThreshold > 100 {
		return fmt.Errorf("ai_confidence_threshold must be between 0 and 100, got %d", s.AIConfidenceThreshold)
	}
	if s.MaxSMSPerCustomerWeek < 0 {
		return fmt.Errorf("max_sms_per_customer_week cannot be negative, got %d", s.MaxSMSPerCustomerWeek)
	}
	if err := validateClock("quiet_hours_start", s.QuietHoursStart); err != nil {
		return err
	}
	if err := validateClock("quiet_hours_end", s.QuietHoursEnd); err != nil {
		return err
	}
	return nil
}

func validateClock(field, value string) error {
	if len(value) != 5 {
		return fmt.Errorf("%s must be HH:MM, got %q", field, value)
	}
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("%s must be HH:MM, got %q", field, value)
	}
	return nil
}

// SettingsPatch is a partial update. Nil fields are left untouched.
type SettingsPatch struct {
	AIAnalyzeCalls              *bool `json:"ai_analyze_calls,omitempty"`
	AutoCreateLeads             *bool `json:"auto_create_leads,omitempty"`
	PipelineMoveOnQuoteAccepted *bool `json:"pipeline_move_on_quote_accepted,omitempty"`
	PipelineMoveOnPayment       *bool `json:"pipeline_move_on_payment,omitempty"`

	SMSBookingConfirmation *bool `json:"sms_booking_confirmation,omitempty"`
	SMSBookingReminder     *bool `json:"sms_booking_reminder,omitempty"`
	SMSQuoteFollowup       *bool `json:"sms_quote_followup,omitempty"`
	SMSInvoiceReminder     *bool `json:"sms_invoice_reminder,omitempty"`
	SMSReviewRequest       *bool `json:"sms_review_request,omitempty"`
	SMSMissedCall          *bool `json:"sms_missed_call,omitempty"`

	AIConfidenceThreshold *int    `json:"ai_confidence_threshold,omitempty"`
	QuietHoursStart       *string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd         *string `json:"quiet_hours_end,omitempty"`
	MaxSMSPerCustomerWeek *int    `json:"max_sms_per_customer_week,omitempty"`
}

// identityKeys are silently dropped from PATCH bodies; the tenant id always
// comes from the request path.
var identityKeys = []string{"id", "business_id", "created_at", "updated_at"}

// ParsePatch decodes a PATCH body. Identity fields are stripped, any other
// key that is not a setting name is an error.
func ParsePatch(data []byte) (SettingsPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return SettingsPatch{}, fmt.Errorf("invalid settings body: %w", err)
	}
	for _, key := range identityKeys {
		delete(raw, key)
	}

	stripped, err := json.Marshal(raw)
	if err != nil {
		return SettingsPatch{}, fmt.Errorf("failed to re-encode settings body: %w", err)
	}

	var patch SettingsPatch
	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return SettingsPatch{}, fmt.Errorf("invalid settings body: %w", err)
	}
	return patch, nil
}

// Apply returns a copy of s with the non-nil patch fields written over it.
func (s Settings) Apply(p SettingsPatch) Settings {
	setBool(&s.AIAnalyzeCalls, p.AIAnalyzeCalls)
	setBool(&s.AutoCreateLeads, p.AutoCreateLeads)
	setBool(&s.PipelineMoveOnQuoteAccepted, p.PipelineMoveOnQuoteAccepted)
	setBool(&s.PipelineMoveOnPayment, p.PipelineMoveOnPayment)
	setBool(&s.SMSBookingConfirmation, p.SMSBookingConfirmation)
	setBool(&s.SMSBookingReminder, p.SMSBookingReminder)
	setBool(&s.SMSQuoteFollowup, p.SMSQuoteFollowup)
	setBool(&s.SMSInvoiceReminder, p.SMSInvoiceReminder)
	setBool(&s.SMSReviewRequest, p.SMSReviewRequest)
	setBool(&s.SMSMissedCall, p.SMSMissedCall)

	if p.AIConfidenceThreshold != nil {
		s.AIConfidenceThreshold = *p.AIConfidenceThreshold
	}
	if p.QuietHoursStart != nil {
		s.QuietHoursStart = *p.QuietHoursStart
	}
	if p.QuietHoursEnd != nil {
		s.QuietHoursEnd = *p.QuietHoursEnd
	}
	if p.MaxSMSPerCustomerWeek != nil {
		s.MaxSMSPerCustomerWeek = *p.MaxSMSPerCustomerWeek
	}
	return s
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// CommunicationSettings is the slice of Settings mirrored into the legacy
// communication_settings table.
type CommunicationSettings struct {
	BusinessID             string
	SMSBookingConfirmation bool
	SMSBookingReminder     bool
	SMSQuoteFollowup       bool
	SMSInvoiceReminder     bool
	SMSReviewRequest       bool
	SMSMissedCall          bool
	QuietHoursStart        string
	QuietHoursEnd          string
	MaxSMSPerCustomerWeek  int
}

// PipelineSettings is the slice of Settings mirrored into the legacy
// pipeline_automation_settings table.
type PipelineSettings struct {
	BusinessID                  string
	AIAnalyzeCalls              bool
	AutoCreateLeads             bool
	PipelineMoveOnQuoteAccepted bool
	PipelineMoveOnPayment       bool
	AIConfidenceThreshold       int
}

// Communication projects s onto the communication shadow record.
func (s Settings) Communication() CommunicationSettings {
	return CommunicationSettings{
		BusinessID:             s.BusinessID,
		SMSBookingConfirmation: s.SMSBookingConfirmation,
		SMSBookingReminder:     s.SMSBookingReminder,
		SMSQuoteFollowup:       s.SMSQuoteFollowup,
		SMSInvoiceReminder:     s.SMSInvoiceReminder,
		SMSReviewRequest:       s.SMSReviewRequest,
		SMSMissedCall:          s.SMSMissedCall,
		QuietHoursStart:        s.QuietHoursStart,
		QuietHoursEnd:          s.QuietHoursEnd,
		MaxSMSPerCustomerWeek:  s.MaxSMSPerCustomerWeek,
	}
}

// Pipeline projects s onto the pipeline shadow record.
func (s Settings) Pipeline() PipelineSettings {
	return PipelineSettings{
		BusinessID:                  s.BusinessID,
		AIAnalyzeCalls:              s.AIAnalyzeCalls,
		AutoCreateLeads:             s.AutoCreateLeads,
		PipelineMoveOnQuoteAccepted: s.PipelineMoveOnQuoteAccepted,
		PipelineMoveOnPayment:       s.PipelineMoveOnPayment,
		AIConfidenceThreshold:       s.AIConfidenceThreshold,
	}
}
