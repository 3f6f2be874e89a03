// Package store defines the persistence interface for the wheel engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/wheelhouse/wheel-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned when a position changed since it was
	// read. The caller must re-read and retry the transition.
	ErrVersionConflict = errors.New("store: position version conflict")

	// ErrDuplicateEvent is returned when an event with the same ID has
	// already been appended. Callers treat it as an idempotent no-op.
	ErrDuplicateEvent = errors.New("store: duplicate event")
)

// PositionFilter narrows ListPositions. Zero values match everything.
type PositionFilter struct {
	Ticker string
	Status string
}

// Store is the persistence interface. The trade ledger is append-only:
// events are inserted, never updated or deleted; positions are updated
// only through AppendEvent's optimistic version check.
type Store interface {
	// --- Positions ---

	// GetPosition retrieves a position by ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// GetOpenPositionByTicker returns the non-terminal position for a
	// ticker, or ErrNotFound when the ticker has no open cycle.
	GetOpenPositionByTicker(ctx context.Context, ticker string) (*model.Position, error)

	// ListPositions returns positions matching the filter.
	ListPositions(ctx context.Context, filter PositionFilter) ([]model.Position, error)

	// --- Immutable ledger ---

	// AppendEvent atomically inserts an event and writes the resulting
	// position snapshot. expectedVersion 0 creates the position; any
	// other value must match the stored version or ErrVersionConflict
	// is returned. A previously-seen event ID returns ErrDuplicateEvent
	// with the ledger unchanged.
	AppendEvent(ctx context.Context, event *model.TradeEvent, pos *model.Position, expectedVersion int64) error

	// GetEvent retrieves a ledger event by ID, used to resolve the
	// original position of a resubmitted event.
	GetEvent(ctx context.Context, id string) (*model.TradeEvent, error)

	// ListEventsByPosition returns a position's events in time order.
	ListEventsByPosition(ctx context.Context, positionID string) ([]model.TradeEvent, error)

	// ListEvents returns the full ledger in time order.
	ListEvents(ctx context.Context) ([]model.TradeEvent, error)

	// --- Deposits ---

	// InsertDeposit records a cash-flow entry.
	InsertDeposit(ctx context.Context, dep *model.Deposit) error

	// ListDeposits returns all deposits in date order.
	ListDeposits(ctx context.Context) ([]model.Deposit, error)
}
