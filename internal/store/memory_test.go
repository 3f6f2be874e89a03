package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelhouse/wheel-engine/internal/model"
	"github.com/wheelhouse/wheel-engine/internal/store"
)

var ctx = context.Background()

func seedPosition(t *testing.T, ms *store.MemoryStore, posID, eventID string) model.Position {
	t.Helper()
	opened := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	event := model.TradeEvent{
		ID: eventID, PositionID: posID, Ticker: "AAPL",
		EventType: model.EventSellToOpenPut,
		Strike:    decimal.NewFromInt(50), PremiumPerContract: decimal.NewFromFloat(1.20),
		Contracts: 1, OccurredAt: opened,
	}
	pos := model.Position{
		ID: posID, Ticker: "AAPL", Status: model.StatusPutOpen, Contracts: 1,
		OpenedAt: opened, LastEventAt: opened, Version: 1,
	}
	if err := ms.AppendEvent(ctx, &event, &pos, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return pos
}

func TestAppendEvent_DuplicateEventID(t *testing.T) {
	ms := store.NewMemoryStore()
	pos := seedPosition(t, ms, "pos1", "ev1")

	// Same event ID again, even against a different position snapshot.
	event := model.TradeEvent{
		ID: "ev1", PositionID: "pos1", Ticker: "AAPL",
		EventType: model.EventAssignment, Strike: decimal.NewFromInt(50),
		Contracts: 1, OccurredAt: pos.LastEventAt.AddDate(0, 0, 7),
	}
	next := pos
	next.Version = 2
	err := ms.AppendEvent(ctx, &event, &next, 1)
	if !errors.Is(err, store.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	// The stored snapshot is unchanged.
	got, err := ms.GetPosition(ctx, "pos1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 {
		t.Errorf("duplicate append must not advance version, got %d", got.Version)
	}
}

func TestAppendEvent_VersionConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	pos := seedPosition(t, ms, "pos1", "ev1")

	// Two writers read version 1; the first lands, the second must not.
	at := pos.LastEventAt.AddDate(0, 0, 7)
	mk := func(id string, version int64) (*model.TradeEvent, *model.Position) {
		event := model.TradeEvent{
			ID: id, PositionID: "pos1", Ticker: "AAPL",
			EventType: model.EventAssignment, Strike: decimal.NewFromInt(50),
			Contracts: 1, OccurredAt: at,
		}
		next := pos
		next.Status = model.StatusAssigned
		next.Version = version
		return &event, &next
	}

	ev2, next2 := mk("ev2", 2)
	if err := ms.AppendEvent(ctx, ev2, next2, 1); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	ev3, next3 := mk("ev3", 2)
	err := ms.AppendEvent(ctx, ev3, next3, 1)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Only the first writer's event is in the ledger.
	events, err := ms.ListEventsByPosition(ctx, "pos1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestAppendEvent_CreateConflictsWithExisting(t *testing.T) {
	ms := store.NewMemoryStore()
	pos := seedPosition(t, ms, "pos1", "ev1")

	// expectedVersion 0 means create; the ID is already taken.
	event := model.TradeEvent{
		ID: "ev2", PositionID: "pos1", Ticker: "AAPL",
		EventType: model.EventSellToOpenPut, Strike: decimal.NewFromInt(50),
		PremiumPerContract: decimal.NewFromFloat(1), Contracts: 1, OccurredAt: pos.OpenedAt,
	}
	err := ms.AppendEvent(ctx, &event, &pos, 0)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on create of existing position, got %v", err)
	}
}

func TestGetOpenPositionByTicker(t *testing.T) {
	ms := store.NewMemoryStore()
	seedPosition(t, ms, "pos1", "ev1")

	got, err := ms.GetOpenPositionByTicker(ctx, "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "pos1" {
		t.Errorf("expected pos1, got %s", got.ID)
	}

	_, err = ms.GetOpenPositionByTicker(ctx, "MSFT")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDeposit_DuplicateID(t *testing.T) {
	ms := store.NewMemoryStore()
	dep := model.Deposit{
		ID: "d1", Type: model.DepositTypeDeposit,
		Amount: decimal.NewFromInt(100), DepositDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := ms.InsertDeposit(ctx, &dep); err != nil {
		t.Fatal(err)
	}
	if err := ms.InsertDeposit(ctx, &dep); !errors.Is(err, store.ErrDuplicateEvent) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}
