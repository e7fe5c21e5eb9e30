package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresDealStore implements DealStore backed by PostgreSQL
type PostgresDealStore struct {
	db *sql.DB
}

// NewPostgresDealStore creates a PostgreSQL-backed DealStore
func NewPostgresDealStore(db *sql.DB) *PostgresDealStore {
	return &PostgresDealStore{db: db}
}

const dealColumns = `
	d.id, d.business_id, d.title, d.description, d.customer_name, d.customer_phone,
	s.slug, d.priority, d.value, d.source, d.call_id, d.created_at, d.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*Deal, error) {
	var d Deal
	err := row.Scan(
		&d.ID,
		&d.BusinessID,
		&d.Title,
		&d.Description,
		&d.CustomerName,
		&d.CustomerPhone,
		&d.Stage,
		&d.Priority,
		&d.Value,
		&d.Source,
		&d.CallID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDeal inserts a deal into the stage named by d.Stage (lead when empty)
func (s *PostgresDealStore) CreateDeal(ctx context.Context, d *Deal) error {
	if d.Stage == "" {
		d.Stage = StageLead
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	d.CustomerPhone = NormalizePhone(d.CustomerPhone)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (
			id, business_id, stage_id, title, description, customer_name,
			customer_phone, priority, value, source, call_id, created_at, updated_at
		)
		SELECT $1, $2, s.id, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		FROM pipeline_stages s
		WHERE s.business_id = $2 AND s.slug = $3
	`, d.ID, d.BusinessID, d.Stage, d.Title, d.Description, d.CustomerName,
		d.CustomerPhone, d.Priority, d.Value, d.Source, d.CallID, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStageNotFound
	}

	return nil
}

// GetDeal retrieves a deal by ID within a business
func (s *PostgresDealStore) GetDeal(ctx context.Context, businessID, dealID string) (*Deal, error) {
	d, err := scanDeal(s.db.QueryRowContext(ctx, `
		SELECT `+dealColumns+`
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.business_id = $1 AND d.id = $2
	`, businessID, dealID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}

	return d, nil
}

// LatestByPhone returns the newest deal for a phone number
func (s *PostgresDealStore) LatestByPhone(ctx context.Context, businessID, phone string) (*Deal, error) {
	d, err := scanDeal(s.db.QueryRowContext(ctx, `
		SELECT `+dealColumns+`
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.business_id = $1 AND d.customer_phone = $2
		ORDER BY d.created_at DESC, d.seq DESC
		LIMIT 1
	`, businessID, NormalizePhone(phone)))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest deal: %w", err)
	}

	return d, nil
}

// ListByPhone returns a phone number's deals, newest first
func (s *PostgresDealStore) ListByPhone(ctx context.Context, businessID, phone string) ([]*Deal, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	return s.list(ctx, `
		SELECT `+dealColumns+`
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.business_id = $1 AND d.customer_phone = $2
		ORDER BY d.created_at DESC, d.seq DESC
	`, businessID, phone)
}

// ListDeals returns every deal of a business, newest first
func (s *PostgresDealStore) ListDeals(ctx context.Context, businessID string) ([]*Deal, error) {
	return s.list(ctx, `
		SELECT `+dealColumns+`
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.business_id = $1
		ORDER BY d.created_at DESC, d.seq DESC
	`, businessID)
}

func (s *PostgresDealStore) list(ctx context.Context, query string, args ...any) ([]*Deal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var deals []*Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deals: %w", err)
	}

	return deals, nil
}

// MoveToStage updates the deal's stage and writes the transition row in one
// transaction. The deal row is locked so concurrent moves serialize.
func (s *PostgresDealStore) MoveToStage(ctx context.Context, t *Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition: %w", err)
	}
	defer tx.Rollback()

	var fromStageID string
	err = tx.QueryRowContext(ctx, `
		SELECT d.stage_id, s.slug
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.business_id = $1 AND d.id = $2
		FOR UPDATE OF d
	`, t.BusinessID, t.DealID).Scan(&fromStageID, &t.FromStage)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDealNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock deal: %w", err)
	}

	var toStageID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM pipeline_stages WHERE business_id = $1 AND slug = $2
	`, t.BusinessID, t.ToStage).Scan(&toStageID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up stage: %w", err)
	}

	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE deals SET stage_id = $1, updated_at = $2 WHERE id = $3
	`, toStageID, t.CreatedAt, t.DealID); err != nil {
		return fmt.Errorf("failed to update deal stage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deal_transitions (
			id, deal_id, business_id, from_stage_id, to_stage_id, triggered_by,
			ai_confidence, ai_reasoning, call_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.DealID, t.BusinessID, fromStageID, toStageID, t.TriggeredBy,
		t.AIConfidence, t.AIReasoning, t.CallID, t.CreatedAt); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}

// Transitions returns a deal's history, oldest first
func (s *PostgresDealStore) Transitions(ctx context.Context, businessID, dealID string) ([]*Transition, error) {
	if _, err := s.GetDeal(ctx, businessID, dealID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.deal_id, t.business_id, f.slug, s.slug, t.triggered_by,
		       t.ai_confidence, t.ai_reasoning, t.call_id, t.created_at
		FROM deal_transitions t
		JOIN pipeline_stages f ON f.id = t.from_stage_id
		JOIN pipeline_stages s ON s.id = t.to_stage_id
		WHERE t.business_id = $1 AND t.deal_id = $2
		ORDER BY t.created_at ASC
	`, businessID, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		var t Transition
		var conf sql.NullInt32
		if err := rows.Scan(&t.ID, &t.DealID, &t.BusinessID, &t.FromStage, &t.ToStage,
			&t.TriggeredBy, &conf, &t.AIReasoning, &t.CallID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if conf.Valid {
			c := int(conf.Int32)
			t.AIConfidence = &c
		}
		out = append(out, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return out, nil
}
