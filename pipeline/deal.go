package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrDealNotFound  = errors.New("deal not found")
	ErrStageNotFound = errors.New("pipeline stage not found")
)

// StageSlug identifies a pipeline stage within a business. Stage names are
// configurable per business; automation only refers to stages by slug.
type StageSlug string

const (
	StageLead     StageSlug = "lead"
	StageAccepted StageSlug = "accepted"
	StageLost     StageSlug = "lost"
	StagePaid     StageSlug = "paid"
)

// Stage is one column of a business's pipeline.
type Stage struct {
	Slug     StageSlug `json:"slug"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
}

// DefaultStages are created for every new business.
func DefaultStages() []Stage {
	return []Stage{
		{Slug: StageLead, Name: "Förfrågan", Position: 1},
		{Slug: StageAccepted, Name: "Accepterad", Position: 2},
		{Slug: StageLost, Name: "Förlorad", Position: 3},
		{Slug: StagePaid, Name: "Betald", Position: 4},
	}
}

// Priority of a deal.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityFor maps a call's urgency to a deal priority.
func PriorityFor(u Urgency) Priority {
	switch u {
	case UrgencyLow:
		return PriorityLow
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyEmergency:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Deal sources.
const (
	SourceAICall = "ai_call"
	SourceManual = "manual"
)

// Deal is a sales-pipeline record.
type Deal struct {
	ID            string          `json:"id"`
	BusinessID    string          `json:"businessId"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	Stage         StageSlug       `json:"stage"`
	Priority      Priority        `json:"priority"`
	Value         decimal.Decimal `json:"value"`
	Source        string          `json:"source"`
	CallID        string          `json:"callId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Transition trigger kinds.
const (
	TriggeredByAI            = "ai"
	TriggeredByQuoteAccepted = "quote_accepted"
	TriggeredByInvoicePaid   = "invoice_paid"
)

// Transition is the audit record of a stage change.
type Transition struct {
	ID           string    `json:"id"`
	DealID       string    `json:"dealId"`
	BusinessID   string    `json:"businessId"`
	FromStage    StageSlug `json:"fromStage"`
	ToStage      StageSlug `json:"toStage"`
	TriggeredBy  string    `json:"triggeredBy"`
	AIConfidence *int      `json:"aiConfidence,omitempty"`
	AIReasoning  string    `json:"aiReasoning,omitempty"`
	CallID       string    `json:"callId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DealStore persists deals and their stage transitions. Phone numbers are
// compared in NormalizePhone form.
type DealStore interface {
	// CreateDeal stores a new deal, assigning ID and timestamps when empty
	CreateDeal(ctx context.Context, d *Deal) error

	// GetDeal returns ErrDealNotFound when the deal doesn't exist in the business
	GetDeal(ctx context.Context, businessID, dealID string) (*Deal, error)

	// LatestByPhone returns the most recently created deal for a phone number
	LatestByPhone(ctx context.Context, businessID, phone string) (*Deal, error)

	// ListByPhone returns a phone number's deals, newest first
	ListByPhone(ctx context.Context, businessID, phone string) ([]*Deal, error)

	// ListDeals returns every deal of a business, newest first
	ListDeals(ctx context.Context, businessID string) ([]*Deal, error)

	// MoveToStage moves t.DealID to t.ToStage and records t. FromStage, ID
	// and CreatedAt are filled in by the store.
	MoveToStage(ctx context.Context, t *Transition) error

	// Transitions returns a deal's history, oldest first
	Transitions(ctx context.Context, businessID, dealID string) ([]*Transition, error)
}
