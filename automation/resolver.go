package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verkstad/dashboard/internal/logger"
)

// Resolver reads and updates per-business automation settings, falling back
// to a fixed set of defaults for businesses that never saved their own.
type Resolver struct {
	store    SettingsStore
	defaults Settings
	now      func() time.Time
}

// NewResolver creates a resolver. defaults is copied and never written to the
// store unless Update is called.
func NewResolver(store SettingsStore, defaults Settings) *Resolver {
	defaults.BusinessID = ""
	defaults.CreatedAt = nil
	defaults.UpdatedAt = nil

	return &Resolver{
		store:    store,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Defaults returns a copy of the configured defaults.
func (r *Resolver) Defaults() Settings {
	return r.defaults
}

// Get returns the saved settings for businessID, or the defaults stamped with
// the business id when nothing has been saved.
func (r *Resolver) Get(ctx context.Context, businessID string) (Settings, error) {
	stored, err := r.store.Get(ctx, businessID)
	if errors.Is(err, ErrSettingsNotFound) {
		s := r.defaults
		s.BusinessID = businessID
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load automation settings for %s: %w", businessID, err)
	}
	return *stored, nil
}

// Update merges patch over the current settings (saved or default), stamps
// the timestamps and saves the result together with its shadow records.
func (r *Resolver) Update(ctx context.Context, businessID string, patch SettingsPatch) (Settings, error) {
	current, err := r.Get(ctx, businessID)
	if err != nil {
		return Settings{}, err
	}

	next := current.Apply(patch)
	next.BusinessID = businessID
	if err := next.Validate(); err != nil {
		return Settings{}, &ValidationError{Err: err}
	}

	now := r.now()
	if next.CreatedAt == nil {
		next.CreatedAt = &now
	}
	next.UpdatedAt = &now

	if err := r.store.Save(ctx, &next); err != nil {
		var syncErr *SyncError
		if errors.As(err, &syncErr) {
			logger.ErrorSettingsSync(syncErr.Target, syncErr.Err,
				"business_id", businessID,
				"shadow", syncErr.IsShadow(),
			)
		} else {
			logger.ErrorSettingsSync("transaction", err, "business_id", businessID)
		}
		return Settings{}, fmt.Errorf("failed to save automation settings for %s: %w", businessID, err)
	}

	logger.Info("automation settings updated", "business_id", businessID)
	return next, nil
}

// ValidationError marks an update rejected because of its content rather
// than a storage failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }
