package rules

import (
	"sync"
	"testing"
	"time"
)

// TestRuleStoreInterface verifies at compile time that InMemoryRuleStore implements RuleStore
func TestRuleStoreInterface(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
}

func TestInMemoryRuleStoreAddAndGet(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := &Rule{
		ID:         "test-1",
		Name:       "Test Rule",
		Expression: `analysis.isNewLead`,
		Active:     true,
	}

	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	retrieved, err := store.Get("test-1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}

	if retrieved.Name != rule.Name {
		t.Errorf("Retrieved rule Name = %s, want %s", retrieved.Name, rule.Name)
	}
}

func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Add(&Rule{ID: "dup", Name: "First", Expression: `true`, Active: true}); err != nil {
		t.Fatalf("First Add() should succeed: %v", err)
	}

	if err := store.Add(&Rule{ID: "dup", Name: "Second", Expression: `false`, Active: true}); err == nil {
		t.Fatal("Add() with duplicate ID should return error")
	}

	retrieved, _ := store.Get("dup")
	if retrieved.Name != "First" {
		t.Errorf("Rule should not have been overwritten, Name = %s", retrieved.Name)
	}
}

func TestInMemoryRuleStoreGetNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if _, err := store.Get("missing"); err == nil {
		t.Fatal("Get() with non-existent ID should return error")
	}
}

func TestInMemoryRuleStoreTimestamps(t *testing.T) {
	store := NewInMemoryRuleStore()
	before := time.Now()

	rule := &Rule{ID: "ts", Name: "Timestamps", Expression: `true`, Active: true}
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if rule.CreatedAt.Before(before) || rule.UpdatedAt.Before(before) {
		t.Error("Add() should set CreatedAt and UpdatedAt")
	}
	created := rule.CreatedAt

	time.Sleep(2 * time.Millisecond)
	updated := &Rule{ID: "ts", Name: "Timestamps v2", Expression: `false`, Active: true}
	if err := store.Update(updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if !updated.CreatedAt.Equal(created) {
		t.Errorf("Update() changed CreatedAt from %v to %v", created, updated.CreatedAt)
	}
	if !updated.UpdatedAt.After(created) {
		t.Error("Update() should advance UpdatedAt")
	}
}

// TestInMemoryRuleStoreListActiveOrder verifies inactive rules are skipped and
// active ones come back by priority, then ID
func TestInMemoryRuleStoreListActiveOrder(t *testing.T) {
	store := NewInMemoryRuleStore()

	for _, r := range []*Rule{
		{ID: "c", Expression: `true`, Priority: 20, Active: true},
		{ID: "a", Expression: `true`, Priority: 20, Active: true},
		{ID: "z", Expression: `true`, Priority: 5, Active: true},
		{ID: "off", Expression: `true`, Priority: 1, Active: false},
	} {
		if err := store.Add(r); err != nil {
			t.Fatalf("Add(%s) failed: %v", r.ID, err)
		}
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}

	want := []string{"z", "a", "c"}
	if len(active) != len(want) {
		t.Fatalf("ListActive() returned %d rules, want %d", len(active), len(want))
	}
	for i, id := range want {
		if active[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, active[i].ID, id)
		}
	}
}

func TestInMemoryRuleStoreUpdateAndDeleteMissing(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Update(&Rule{ID: "missing"}); err == nil {
		t.Error("Update() of missing rule should fail")
	}
	if err := store.Delete("missing"); err == nil {
		t.Error("Delete() of missing rule should fail")
	}
}

func TestInMemoryRuleStoreConcurrentAccess(t *testing.T) {
	store := NewInMemoryRuleStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A'+i%26)) + string(rune('a'+i/26))
			_ = store.Add(&Rule{ID: id, Expression: `true`, Active: true})
			_, _ = store.ListActive()
		}(i)
	}
	wg.Wait()

	active, _ := store.ListActive()
	if len(active) != 50 {
		t.Errorf("expected 50 rules after concurrent adds, got %d", len(active))
	}
}
