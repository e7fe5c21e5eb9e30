package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSettingsStore implements SettingsStore backed by PostgreSQL.
// Save writes the primary row and both shadow rows in one transaction.
type PostgresSettingsStore struct {
	db *sql.DB
}

// NewPostgresSettingsStore creates a PostgreSQL-backed SettingsStore
func NewPostgresSettingsStore(db *sql.DB) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: db}
}

// Get retrieves the settings row for a business
func (s *PostgresSettingsStore) Get(ctx context.Context, businessID string) (*Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT business_id, ai_analyze_calls, auto_create_leads,
		       pipeline_move_on_quote_accepted, pipeline_move_on_payment,
		       sms_booking_confirmation, sms_booking_reminder, sms_quote_followup,
		       sms_invoice_reminder, sms_review_request, sms_missed_call,
		       ai_confidence_threshold, quiet_hours_start, quiet_hours_end,
		       max_sms_per_customer_week, created_at, updated_at
		FROM automation_settings
		WHERE business_id = $1
	`, businessID).Scan(
		&st.BusinessID,
		&st.AIAnalyzeCalls,
		&st.AutoCreateLeads,
		&st.PipelineMoveOnQuoteAccepted,
		&st.PipelineMoveOnPayment,
		&st.SMSBookingConfirmation,
		&st.SMSBookingReminder,
		&st.SMSQuoteFollowup,
		&st.SMSInvoiceReminder,
		&st.SMSReviewRequest,
		&st.SMSMissedCall,
		&st.AIConfidenceThreshold,
		&st.QuietHoursStart,
		&st.QuietHoursEnd,
		&st.MaxSMSPerCustomerWeek,
		&st.CreatedAt,
		&st.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation settings: %w", err)
	}

	return &st, nil
}

// Save upserts the primary row and the two shadow rows. Any failure rolls
// the whole write back and is reported as a *SyncError naming the table.
func (s *PostgresSettingsStore) Save(ctx context.Context, st *Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settings transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO automation_settings (
			business_id, ai_analyze_calls, auto_create_leads,
			pipeline_move_on_quote_accepted, pipeline_move_on_payment,
			sms_booking_confirmation, sms_booking_reminder, sms_quote_followup,
			sms_invoice_reminder, sms_review_request, sms_missed_call,
			ai_confidence_threshold, quiet_hours_start, quiet_hours_end,
			max_sms_per_customer_week, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (business_id) DO UPDATE SET
			ai_analyze_calls                = EXCLUDED.ai_analyze_calls,
			auto_create_leads               = EXCLUDED.auto_create_leads,
			pipeline_move_on_quote_accepted = EXCLUDED.pipeline_move_on_quote_accepted,
			pipeline_move_on_payment        = EXCLUDED.pipeline_move_on_payment,
			sms_booking_confirmation        = EXCLUDED.sms_booking_confirmation,
			sms_booking_reminder            = EXCLUDED.sms_booking_reminder,
			sms_quote_followup              = EXCLUDED.sms_quote_followup,
			sms_invoice_reminder            = EXCLUDED.sms_invoice_reminder,
			sms_review_request              = EXCLUDED.sms_review_request,
			sms_missed_call                 = EXCLUDED.sms_missed_call,
			ai_confidence_threshold         = EXCLUDED.ai_confidence_threshold,
			quiet_hours_start               = EXCLUDED.quiet_hours_start,
			quiet_hours_end                 = EXCLUDED.quiet_hours_end,
			max_sms_per_customer_week       = EXCLUDED.max_sms_per_customer_week,
			updated_at                      = EXCLUDED.updated_at
	`, st.BusinessID, st.AIAnalyzeCalls, st.AutoCreateLeads,
		st.PipelineMoveOnQuoteAccepted, st.PipelineMoveOnPayment,
		st.SMSBookingConfirmation, st.SMSBookingReminder, st.SMSQuoteFollowup,
		st.SMSInvoiceReminder, st.SMSReviewRequest, st.SMSMissedCall,
		st.AIConfidenceThreshold, st.QuietHoursStart, st.QuietHoursEnd,
		st.MaxSMSPerCustomerWeek, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return &SyncError{Target: TargetSettings, Err: err}
	}

	c := st.Communication()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO communication_settings (
			business_id, sms_booking_confirmation, sms_booking_reminder,
			sms_quote_followup, sms_invoice_reminder, sms_review_request,
			sms_missed_call, quiet_hours_start, quiet_hours_end,
			max_sms_per_customer_week, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (business_id) DO UPDATE SET
			sms_booking_confirmation  = EXCLUDED.sms_booking_confirmation,
			sms_booking_reminder      = EXCLUDED.sms_booking_reminder,
			sms_quote_followup        = EXCLUDED.sms_quote_followup,
			sms_invoice_reminder      = EXCLUDED.sms_invoice_reminder,
			sms_review_request        = EXCLUDED.sms_review_request,
			sms_missed_call           = EXCLUDED.sms_missed_call,
			quiet_hours_start         = EXCLUDED.quiet_hours_start,
			quiet_hours_end           = EXCLUDED.quiet_hours_end,
			max_sms_per_customer_week = EXCLUDED.max_sms_per_customer_week,
			updated_at                = EXCLUDED.updated_at
	`, c.BusinessID, c.SMSBookingConfirmation, c.SMSBookingReminder,
		c.SMSQuoteFollowup, c.SMSInvoiceReminder, c.SMSReviewRequest,
		c.SMSMissedCall, c.QuietHoursStart, c.QuietHoursEnd,
		c.MaxSMSPerCustomerWeek, st.UpdatedAt)
	if err != nil {
		return &SyncError{Target: TargetCommunication, Err: err}
	}

	p := st.Pipeline()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_automation_settings (
			business_id, ai_analyze_calls, auto_create_leads,
			move_on_quote_accepted, move_on_payment, ai_confidence_threshold,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (business_id) DO UPDATE SET
			ai_analyze_calls        = EXCLUDED.ai_analyze_calls,
			auto_create_leads       = EXCLUDED.auto_create_leads,
			move_on_quote_accepted  = EXCLUDED.move_on_quote_accepted,
			move_on_payment         = EXCLUDED.move_on_payment,
			ai_confidence_threshold = EXCLUDED.ai_confidence_threshold,
			updated_at              = EXCLUDED.updated_at
	`, p.BusinessID, p.AIAnalyzeCalls, p.AutoCreateLeads,
		p.PipelineMoveOnQuoteAccepted, p.PipelineMoveOnPayment,
		p.AIConfidenceThreshold, st.UpdatedAt)
	if err != nil {
		return &SyncError{Target: TargetPipeline, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings transaction: %w", err)
	}

	return nil
}
