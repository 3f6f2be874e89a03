package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wheelhouse/wheel-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the hot dashboard reads: position snapshots and per-position
// event histories. Appends go to the primary store and invalidate the
// affected keys; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write path (write to primary, invalidate cache) ---

func (s *CachedStore) AppendEvent(ctx context.Context, event *model.TradeEvent, pos *model.Position, expectedVersion int64) error {
	if err := s.primary.AppendEvent(ctx, event, pos, expectedVersion); err != nil {
		return err
	}
	// Invalidate; the next read re-populates from the primary.
	s.rdb.Del(ctx, positionKey(pos.ID), eventsKey(pos.ID), openTickerKey(pos.Ticker))
	return nil
}

func (s *CachedStore) InsertDeposit(ctx context.Context, dep *model.Deposit) error {
	return s.primary.InsertDeposit(ctx, dep)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePosition(ctx, p)
	return p, nil
}

func (s *CachedStore) GetOpenPositionByTicker(ctx context.Context, ticker string) (*model.Position, error) {
	// Try cache via ticker→positionID mapping.
	id, err := s.rdb.Get(ctx, openTickerKey(ticker)).Result()
	if err == nil {
		return s.GetPosition(ctx, id)
	}

	p, err := s.primary.GetOpenPositionByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	s.cachePosition(ctx, p)
	s.rdb.Set(ctx, openTickerKey(ticker), p.ID, s.ttl)
	return p, nil
}

func (s *CachedStore) ListEventsByPosition(ctx context.Context, positionID string) ([]model.TradeEvent, error) {
	data, err := s.rdb.Get(ctx, eventsKey(positionID)).Bytes()
	if err == nil {
		var events []model.TradeEvent
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListEventsByPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(positionID), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context, filter PositionFilter) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, filter)
}

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.TradeEvent, error) {
	return s.primary.GetEvent(ctx, id)
}

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.TradeEvent, error) {
	return s.primary.ListEvents(ctx)
}

func (s *CachedStore) ListDeposits(ctx context.Context) ([]model.Deposit, error) {
	return s.primary.ListDeposits(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(p.ID), data, s.ttl)
	}
}

func positionKey(id string) string       { return fmt.Sprintf("position:%s", id) }
func eventsKey(id string) string         { return fmt.Sprintf("events:%s", id) }
func openTickerKey(ticker string) string { return fmt.Sprintf("open:%s", ticker) }
