package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryFilter(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFilter(time.Hour)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return current }

	isNew, err := f.IsNew(ctx, "biz-1:call-1")
	if err != nil || !isNew {
		t.Fatalf("first IsNew = %v, %v; want true, nil", isNew, err)
	}

	isNew, _ = f.IsNew(ctx, "biz-1:call-1")
	if isNew {
		t.Error("second IsNew for the same key should be false")
	}

	isNew, _ = f.IsNew(ctx, "biz-2:call-1")
	if !isNew {
		t.Error("same call id under another business should be new")
	}

	current = current.Add(2 * time.Hour)
	isNew, _ = f.IsNew(ctx, "biz-1:call-1")
	if !isNew {
		t.Error("key should be new again after the ttl expires")
	}
}

func TestMemoryFilterRelease(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFilter(time.Hour)

	if isNew, _ := f.IsNew(ctx, "biz-1:call-1"); !isNew {
		t.Fatal("first IsNew should be true")
	}
	if err := f.Release(ctx, "biz-1:call-1"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if isNew, _ := f.IsNew(ctx, "biz-1:call-1"); !isNew {
		t.Error("released key should be new again")
	}
	if err := f.Release(ctx, "never-seen"); err != nil {
		t.Errorf("Release() of unknown key failed: %v", err)
	}
}

func TestMemoryFilterSweepsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFilter(time.Minute)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return current }

	for i := 0; i < minSweep; i++ {
		f.IsNew(ctx, fmt.Sprintf("old-%d", i))
	}

	current = current.Add(time.Hour)
	f.IsNew(ctx, "fresh-1")

	f.mu.Lock()
	size := len(f.seen)
	f.mu.Unlock()
	if size != 1 {
		t.Errorf("map holds %d keys after sweep, want 1", size)
	}

	for i := 0; i < 10; i++ {
		f.IsNew(ctx, fmt.Sprintf("fresh-%d", i+2))
	}
	if f.nextSweep != minSweep {
		t.Errorf("nextSweep = %d, want %d", f.nextSweep, minSweep)
	}
}

func TestNewFilterDefaultTTL(t *testing.T) {
	if f := NewFilter(nil, 0); f.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", f.ttl, DefaultTTL)
	}
	if f := NewMemoryFilter(-1); f.ttl != DefaultTTL {
		t.Errorf("memory ttl = %v, want %v", f.ttl, DefaultTTL)
	}
}
