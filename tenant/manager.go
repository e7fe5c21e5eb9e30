// Package tenant keeps the directory of businesses using the dashboard.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verkstad/dashboard/internal/logger"
	"github.com/verkstad/dashboard/pipeline"
)

var ErrBusinessNotFound = errors.New("business not found")

// Business is one subscribing service company.
type Business struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OrgNumber string    `json:"orgNumber,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Directory looks up and registers businesses.
type Directory interface {
	Create(ctx context.Context, name, orgNumber string) (*Business, error)
	Get(ctx context.Context, id string) (*Business, error)
	List(ctx context.Context) ([]*Business, error)
}

// Manager caches every business in memory and, when a database is set,
// persists them there. A nil db gives a memory-only directory.
type Manager struct {
	businesses map[string]*Business
	db         *sql.DB
	mu         sync.RWMutex
}

// NewManager creates a new manager instance
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		businesses: make(map[string]*Business),
		db:         db,
	}
}

// LoadAll loads every business from the database into the cache
func (m *Manager) LoadAll(ctx context.Context) error {
	if m.db == nil {
		return nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, org_number, created_at, updated_at
		FROM businesses
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch businesses: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]*Business)
	for rows.Next() {
		var b Business
		if err := rows.Scan(&b.ID, &b.Name, &b.OrgNumber, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan business row: %w", err)
		}
		loaded[b.ID] = &b
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating business rows: %w", err)
	}

	m.mu.Lock()
	m.businesses = loaded
	m.mu.Unlock()

	logger.Info("businesses loaded", "count", len(loaded))
	return nil
}

// Create validates and registers a new business. With a database the
// business row and its default pipeline stages are written in one transaction.
func (m *Manager) Create(ctx context.Context, name, orgNumber string) (*Business, error) {
	if err := ValidateBusiness(name, orgNumber); err != nil {
		return nil, &ValidationError{Err: err}
	}

	now := time.Now().UTC()
	b := &Business{
		ID:        uuid.NewString(),
		Name:      name,
		OrgNumber: orgNumber,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if m.db != nil {
		if err := m.insert(ctx, b); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.businesses[b.ID] = b
	m.mu.Unlock()

	logger.Info("business created", "business_id", b.ID)
	cp := *b
	return &cp, nil
}

func (m *Manager) insert(ctx context.Context, b *Business) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin business transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO businesses (id, name, org_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.Name, b.OrgNumber, b.CreatedAt, b.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert business: %w", err)
	}

	for _, st := range pipeline.DefaultStages() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_stages (id, business_id, slug, name, position)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), b.ID, st.Slug, st.Name, st.Position); err != nil {
			return fmt.Errorf("failed to create stage %s: %w", st.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit business: %w", err)
	}
	return nil
}

// Get returns a business from the cache, falling back to the database for
// businesses created by another instance.
func (m *Manager) Get(ctx context.Context, id string) (*Business, error) {
	m.mu.RLock()
	b, exists := m.businesses[id]
	m.mu.RUnlock()

	if exists {
		cp := *b
		return &cp, nil
	}
	if m.db == nil {
		return nil, ErrBusinessNotFound
	}

	var found Business
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, org_number, created_at, updated_at
		FROM businesses
		WHERE id = $1
	`, id).Scan(&found.ID, &found.Name, &found.OrgNumber, &found.CreatedAt, &found.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business: %w", err)
	}

	m.mu.Lock()
	m.businesses[found.ID] = &found
	m.mu.Unlock()

	cp := found
	return &cp, nil
}

// List returns all cached businesses ordered by creation time
func (m *Manager) List(_ context.Context) ([]*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Business, 0, len(m.businesses))
	for _, b := range m.businesses {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ValidationError marks a business rejected because of its content.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }
