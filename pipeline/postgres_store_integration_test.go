//go:build integration

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/verkstad/dashboard/internal/testdb"
)

const testBusinessID = "0b7c6c8e-2f57-4d3a-9a43-5b8f8d1c2e10"

func setupDealStore(t *testing.T) *PostgresDealStore {
	t.Helper()
	db := testdb.Setup(t)
	testdb.CreateBusiness(t, db, testBusinessID, "Måleri Syd", "lead", "accepted", "lost", "paid")
	return NewPostgresDealStore(db)
}

func TestPostgresDealStoreCreateAndGet(t *testing.T) {
	store := setupDealStore(t)
	ctx := context.Background()

	d := &Deal{
		BusinessID:    testBusinessID,
		Title:         "Måla fasad - Eva",
		CustomerName:  "Eva",
		CustomerPhone: "070-111 22 33",
		Priority:      PriorityNormal,
		Value:         decimal.RequireFromString("12500.50"),
		Source:        SourceAICall,
		CallID:        "call-9",
	}
	if err := store.CreateDeal(ctx, d); err != nil {
		t.Fatalf("CreateDeal() failed: %v", err)
	}

	got, err := store.GetDeal(ctx, testBusinessID, d.ID)
	if err != nil {
		t.Fatalf("GetDeal() failed: %v", err)
	}
	if got.Stage != StageLead || got.CustomerPhone != "+46701112233" || !got.Value.Equal(d.Value) {
		t.Errorf("deal = %+v", got)
	}

	if _, err := store.GetDeal(ctx, testBusinessID, "5d1e7a0c-8b2f-4c7e-9f0a-1b2c3d4e5f60"); !errors.Is(err, ErrDealNotFound) {
		t.Errorf("GetDeal() unknown error = %v, want ErrDealNotFound", err)
	}

	err = store.CreateDeal(ctx, &Deal{BusinessID: testBusinessID, Title: "x", Stage: "archived", Priority: PriorityLow, Source: SourceManual})
	if !errors.Is(err, ErrStageNotFound) {
		t.Errorf("CreateDeal() unknown stage error = %v, want ErrStageNotFound", err)
	}
}

func TestPostgresDealStoreLatestByPhone(t *testing.T) {
	store := setupDealStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	older := &Deal{BusinessID: testBusinessID, Title: "old", CustomerPhone: "0701112233", Priority: PriorityNormal, Source: SourceManual, CreatedAt: created.Add(-time.Hour)}
	tieA := &Deal{BusinessID: testBusinessID, Title: "tie a", CustomerPhone: "0701112233", Priority: PriorityNormal, Source: SourceManual, CreatedAt: created}
	tieB := &Deal{BusinessID: testBusinessID, Title: "tie b", CustomerPhone: "+46701112233", Priority: PriorityNormal, Source: SourceManual, CreatedAt: created}
	for _, d := range []*Deal{older, tieA, tieB} {
		if err := store.CreateDeal(ctx, d); err != nil {
			t.Fatalf("CreateDeal() failed: %v", err)
		}
	}

	latest, err := store.LatestByPhone(ctx, testBusinessID, "070 111 22 33")
	if err != nil {
		t.Fatalf("LatestByPhone() failed: %v", err)
	}
	if latest.ID != tieB.ID {
		t.Errorf("LatestByPhone() = %s, want last inserted of the tie", latest.Title)
	}

	all, err := store.ListByPhone(ctx, testBusinessID, "0701112233")
	if err != nil {
		t.Fatalf("ListByPhone() failed: %v", err)
	}
	if len(all) != 3 || all[2].ID != older.ID {
		t.Errorf("ListByPhone() returned %d deals, oldest last expected", len(all))
	}

	if _, err := store.LatestByPhone(ctx, testBusinessID, "0709999999"); !errors.Is(err, ErrDealNotFound) {
		t.Errorf("LatestByPhone() unknown error = %v, want ErrDealNotFound", err)
	}
}

func TestPostgresDealStoreMoveToStage(t *testing.T) {
	store := setupDealStore(t)
	ctx := context.Background()

	d := &Deal{BusinessID: testBusinessID, Title: "Tapetsering", Priority: PriorityNormal, Source: SourceManual}
	if err := store.CreateDeal(ctx, d); err != nil {
		t.Fatalf("CreateDeal() failed: %v", err)
	}

	conf := 91
	if err := store.MoveToStage(ctx, &Transition{
		DealID:       d.ID,
		BusinessID:   testBusinessID,
		ToStage:      StageAccepted,
		TriggeredBy:  TriggeredByAI,
		AIConfidence: &conf,
		AIReasoning:  "Kunden tackar ja.",
		CallID:       "call-3",
	}); err != nil {
		t.Fatalf("MoveToStage() failed: %v", err)
	}

	err := store.MoveToStage(ctx, &Transition{DealID: d.ID, BusinessID: testBusinessID, ToStage: "archived", TriggeredBy: TriggeredByAI})
	if !errors.Is(err, ErrStageNotFound) {
		t.Errorf("MoveToStage() unknown stage error = %v, want ErrStageNotFound", err)
	}

	got, err := store.GetDeal(ctx, testBusinessID, d.ID)
	if err != nil {
		t.Fatalf("GetDeal() failed: %v", err)
	}
	if got.Stage != StageAccepted {
		t.Errorf("stage = %s, want accepted", got.Stage)
	}

	history, err := store.Transitions(ctx, testBusinessID, d.ID)
	if err != nil {
		t.Fatalf("Transitions() failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(history))
	}
	tr := history[0]
	if tr.FromStage != StageLead || tr.ToStage != StageAccepted || tr.AIConfidence == nil || *tr.AIConfidence != 91 || tr.CallID != "call-3" {
		t.Errorf("transition = %+v", tr)
	}
}
