package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryDealStore implements DealStore in memory. Every business gets the
// DefaultStages unless SetStages overrides them. Safe for concurrent use.
type InMemoryDealStore struct {
	mu          sync.RWMutex
	deals       []*Deal // insertion order
	byID        map[string]*Deal
	transitions map[string][]*Transition
	stages      map[string][]Stage
	now         func() time.Time
}

// NewInMemoryDealStore creates an empty in-memory deal store
func NewInMemoryDealStore() *InMemoryDealStore {
	return &InMemoryDealStore{
		byID:        make(map[string]*Deal),
		transitions: make(map[string][]*Transition),
		stages:      make(map[string][]Stage),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetStages replaces the pipeline stages of a business
func (s *InMemoryDealStore) SetStages(businessID string, stages []Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[businessID] = append([]Stage(nil), stages...)
}

func (s *InMemoryDealStore) hasStage(businessID string, slug StageSlug) bool {
	stages, ok := s.stages[businessID]
	if !ok {
		stages = DefaultStages()
	}
	for _, st := range stages {
		if st.Slug == slug {
			return true
		}
	}
	return false
}

// CreateDeal stores a copy of d in the stage named by d.Stage (lead when empty)
func (s *InMemoryDealStore) CreateDeal(_ context.Context, d *Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Stage == "" {
		d.Stage = StageLead
	}
	if !s.hasStage(d.BusinessID, d.Stage) {
		return ErrStageNotFound
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.UpdatedAt = d.CreatedAt
	d.CustomerPhone = NormalizePhone(d.CustomerPhone)

	cp := *d
	s.deals = append(s.deals, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

// GetDeal retrieves a deal by ID within a business
func (s *InMemoryDealStore) GetDeal(_ context.Context, businessID, dealID string) (*Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[dealID]
	if !ok || d.BusinessID != businessID {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

// LatestByPhone returns the newest deal for a phone number
func (s *InMemoryDealStore) LatestByPhone(ctx context.Context, businessID, phone string) (*Deal, error) {
	deals, err := s.ListByPhone(ctx, businessID, phone)
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return nil, ErrDealNotFound
	}
	return deals[0], nil
}

// ListByPhone returns a phone number's deals, newest first
func (s *InMemoryDealStore) ListByPhone(_ context.Context, businessID, phone string) ([]*Deal, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	return s.newestFirst(func(d *Deal) bool {
		return d.BusinessID == businessID && d.CustomerPhone == phone
	}), nil
}

// ListDeals returns every deal of a business, newest first
func (s *InMemoryDealStore) ListDeals(_ context.Context, businessID string) ([]*Deal, error) {
	return s.newestFirst(func(d *Deal) bool { return d.BusinessID == businessID }), nil
}

// newestFirst walks the insertion log backwards so equal CreatedAt values
// resolve to the latest insert.
func (s *InMemoryDealStore) newestFirst(match func(*Deal) bool) []*Deal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Deal
	for i := len(s.deals) - 1; i >= 0; i-- {
		if match(s.deals[i]) {
			cp := *s.deals[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MoveToStage updates the deal's stage and appends the transition
func (s *InMemoryDealStore) MoveToStage(_ context.Context, t *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[t.DealID]
	if !ok || d.BusinessID != t.BusinessID {
		return ErrDealNotFound
	}
	if !s.hasStage(t.BusinessID, t.ToStage) {
		return ErrStageNotFound
	}

	now := s.now()
	t.ID = uuid.NewString()
	t.FromStage = d.Stage
	t.CreatedAt = now

	d.Stage = t.ToStage
	d.UpdatedAt = now

	cp := *t
	s.transitions[d.ID] = append(s.transitions[d.ID], &cp)
	return nil
}

// Transitions returns a deal's history, oldest first
func (s *InMemoryDealStore) Transitions(_ context.Context, businessID, dealID string) ([]*Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[dealID]
	if !ok || d.BusinessID != businessID {
		return nil, ErrDealNotFound
	}
	out := make([]*Transition, 0, len(s.transitions[dealID]))
	for _, t := range s.transitions[dealID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
