package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wheelhouse/wheel-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	events    []model.TradeEvent
	eventIDs  map[string]bool
	deposits  []model.Deposit
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.Position),
		eventIDs:  make(map[string]bool),
	}
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetOpenPositionByTicker(_ context.Context, ticker string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.Ticker == ticker && !p.IsTerminal() {
			copy := *p
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: no open position for %s", ErrNotFound, ticker)
}

func (s *MemoryStore) ListPositions(_ context.Context, filter PositionFilter) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if filter.Ticker != "" && p.Ticker != filter.Ticker {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		positions = append(positions, *p)
	}
	// Deterministic order for tests and pagination-free listings.
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].OpenedAt.Before(positions[j].OpenedAt)
		}
		return positions[i].ID < positions[j].ID
	})
	return positions, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *model.TradeEvent, pos *model.Position, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eventIDs[event.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, event.ID)
	}

	existing, ok := s.positions[pos.ID]
	if expectedVersion == 0 {
		if ok {
			return fmt.Errorf("%w: position %s already exists", ErrVersionConflict, pos.ID)
		}
	} else {
		if !ok {
			return fmt.Errorf("%w: position %s", ErrNotFound, pos.ID)
		}
		if existing.Version != expectedVersion {
			return fmt.Errorf("%w: expected %d, have %d", ErrVersionConflict, expectedVersion, existing.Version)
		}
	}

	s.events = append(s.events, *event)
	s.eventIDs[event.ID] = true
	copy := *pos
	s.positions[pos.ID] = &copy
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.ID == id {
			copy := e
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
}

func (s *MemoryStore) ListEventsByPosition(_ context.Context, positionID string) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeEvent
	for _, e := range s.events {
		if e.PositionID == positionID {
			result = append(result, e)
		}
	}
	sortEvents(result)
	return result, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.TradeEvent, len(s.events))
	copy(result, s.events)
	sortEvents(result)
	return result, nil
}

func (s *MemoryStore) InsertDeposit(_ context.Context, dep *model.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.deposits {
		if d.ID == dep.ID {
			return fmt.Errorf("%w: deposit %s", ErrDuplicateEvent, dep.ID)
		}
	}
	s.deposits = append(s.deposits, *dep)
	return nil
}

func (s *MemoryStore) ListDeposits(_ context.Context) ([]model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Deposit, len(s.deposits))
	copy(result, s.deposits)
	sort.Slice(result, func(i, j int) bool { return result[i].DepositDate.Before(result[j].DepositDate) })
	return result, nil
}

// sortEvents orders by occurrence time, then insertion-stable by ID.
func sortEvents(events []model.TradeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
