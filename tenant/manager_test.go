package tenant

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/verkstad/dashboard/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestManagerImplementsDirectory(t *testing.T) {
	var _ Directory = (*Manager)(nil)
}

func TestManagerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)

	b, err := m.Create(ctx, "Snickeri Holm", "556036-0793")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if b.ID == "" || b.CreatedAt.IsZero() {
		t.Fatalf("Create() should assign ID and timestamps: %+v", b)
	}

	got, err := m.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Snickeri Holm" || got.OrgNumber != "556036-0793" {
		t.Errorf("Get() = %+v", got)
	}

	got.Name = "mutated"
	again, _ := m.Get(ctx, b.ID)
	if again.Name != "Snickeri Holm" {
		t.Error("Get() should return a copy")
	}
}

func TestManagerCreateRejectsInvalid(t *testing.T) {
	m := NewManager(nil)

	_, err := m.Create(context.Background(), "", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Create() error = %v, want *ValidationError", err)
	}

	list, _ := m.List(context.Background())
	if len(list) != 0 {
		t.Errorf("invalid business should not be stored, got %d", len(list))
	}
}

func TestManagerGetNotFound(t *testing.T) {
	_, err := NewManager(nil).Get(context.Background(), "missing")
	if !errors.Is(err, ErrBusinessNotFound) {
		t.Errorf("Get() = %v, want ErrBusinessNotFound", err)
	}
}

func TestManagerListAndConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Create(ctx, "Måleri AB", ""); err != nil {
				t.Errorf("Create() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 20 {
		t.Fatalf("List() returned %d businesses, want 20", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
			t.Fatal("List() should be ordered by creation time")
		}
	}
}

func TestManagerLoadAllWithoutDatabase(t *testing.T) {
	if err := NewManager(nil).LoadAll(context.Background()); err != nil {
		t.Errorf("LoadAll() without a database should be a no-op, got %v", err)
	}
}
