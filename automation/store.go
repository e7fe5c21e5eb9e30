package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSettingsNotFound is returned by a SettingsStore when a business has no
// saved settings.
var ErrSettingsNotFound = errors.New("automation settings not found")

// Sync targets written by SettingsStore.Save.
const (
	TargetSettings      = "automation_settings"
	TargetCommunication = "communication_settings"
	TargetPipeline      = "pipeline_automation_settings"
)

// SyncError reports which of the tables written by Save failed.
type SyncError struct {
	Target string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Target, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsShadow reports whether the failure was in one of the legacy mirror
// tables rather than the primary record.
func (e *SyncError) IsShadow() bool {
	return e.Target != TargetSettings
}

// SettingsStore persists automation settings. Save is the only writer of
// the primary table and both shadow tables and must write all of them or
// none.
type SettingsStore interface {
	// Get returns the saved settings or ErrSettingsNotFound
	Get(ctx context.Context, businessID string) (*Settings, error)

	// Save upserts the settings and their shadow records
	Save(ctx context.Context, s *Settings) error
}

// InMemorySettingsStore implements SettingsStore with maps guarded by a
// single mutex, so the three tables always change together.
type InMemorySettingsStore struct {
	settings      map[string]Settings
	communication map[string]CommunicationSettings
	pipeline      map[string]PipelineSettings
	mu            sync.RWMutex
}

// NewInMemorySettingsStore creates an empty store.
func NewInMemorySettingsStore() *InMemorySettingsStore {
	return &InMemorySettingsStore{
		settings:      make(map[string]Settings),
		communication: make(map[string]CommunicationSettings),
		pipeline:      make(map[string]PipelineSettings),
	}
}

// Get returns a copy of the saved settings.
func (s *InMemorySettingsStore) Get(ctx context.Context, businessID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.settings[businessID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	return &stored, nil
}

// Save stores the settings and both shadow projections.
func (s *InMemorySettingsStore) Save(ctx context.Context, settings *Settings) error {
	if settings.BusinessID == "" {
		return &SyncError{Target: TargetSettings, Err: errors.New("business id is required")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[settings.BusinessID] = *settings
	s.communication[settings.BusinessID] = settings.Communication()
	s.pipeline[settings.BusinessID] = settings.Pipeline()
	return nil
}

// Communication returns the mirrored communication record.
func (s *InMemorySettingsStore) Communication(businessID string) (CommunicationSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.communication[businessID]
	return c, ok
}

// Pipeline returns the mirrored pipeline record.
func (s *InMemorySettingsStore) Pipeline(businessID string) (PipelineSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipeline[businessID]
	return p, ok
}
