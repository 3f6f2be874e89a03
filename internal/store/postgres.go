package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wheelhouse/wheel-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const positionColumns = `id, ticker, status, contracts, shares_held,
	cost_basis_per_share::TEXT, premium_collected::TEXT, realized_pl::TEXT,
	call_expiries, opened_at, closed_at, last_event_at, version`

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetOpenPositionByTicker(ctx context.Context, ticker string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE ticker = $1 AND status NOT IN ('CALLED_AWAY', 'PUT_EXPIRED', 'CLOSED')
		 ORDER BY opened_at DESC LIMIT 1`, ticker)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no open position for %s", ErrNotFound, ticker)
		}
		return nil, fmt.Errorf("get open position for %s: %w", ticker, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, filter PositionFilter) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE ($1 = '' OR ticker = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY opened_at, id`, filter.Ticker, filter.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *model.TradeEvent, pos *model.Position, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO trade_events (id, position_id, ticker, event_type, strike, premium_per_contract, contracts, occurred_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.PositionID, event.Ticker, event.EventType,
		event.Strike.String(), event.PremiumPerContract.String(),
		event.Contracts, event.OccurredAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, event.ID)
	}

	if expectedVersion == 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO positions (id, ticker, status, contracts, shares_held, cost_basis_per_share,
			                        premium_collected, realized_pl, call_expiries, opened_at, closed_at,
			                        last_event_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13)
			 ON CONFLICT (id) DO NOTHING`,
			pos.ID, pos.Ticker, pos.Status, pos.Contracts, pos.SharesHeld,
			pos.CostBasisPerShare.String(), pos.PremiumCollected.String(), pos.RealizedPL.String(),
			pos.CallExpiries, pos.OpenedAt, pos.ClosedAt, pos.LastEventAt, pos.Version,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE positions
			 SET status = $2, contracts = $3, shares_held = $4, cost_basis_per_share = $5::NUMERIC,
			     premium_collected = $6::NUMERIC, realized_pl = $7::NUMERIC, call_expiries = $8,
			     closed_at = $9, last_event_at = $10, version = $11
			 WHERE id = $1 AND version = $12`,
			pos.ID, pos.Status, pos.Contracts, pos.SharesHeld, pos.CostBasisPerShare.String(),
			pos.PremiumCollected.String(), pos.RealizedPL.String(), pos.CallExpiries,
			pos.ClosedAt, pos.LastEventAt, pos.Version, expectedVersion,
		)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s at version %d", ErrVersionConflict, pos.ID, expectedVersion)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.TradeEvent, error) {
	var e model.TradeEvent
	var strikeS, premiumS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, position_id, ticker, event_type,
		        strike::TEXT, premium_per_contract::TEXT, contracts, occurred_at
		 FROM trade_events WHERE id = $1`, id).
		Scan(&e.ID, &e.PositionID, &e.Ticker, &e.EventType,
			&strikeS, &premiumS, &e.Contracts, &e.OccurredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}

	e.Strike, _ = decimal.NewFromString(strikeS)
	e.PremiumPerContract, _ = decimal.NewFromString(premiumS)
	return &e, nil
}

func (s *PostgresStore) ListEventsByPosition(ctx context.Context, positionID string) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, ticker, event_type,
		        strike::TEXT, premium_per_contract::TEXT, contracts, occurred_at
		 FROM trade_events WHERE position_id = $1 ORDER BY occurred_at, id`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, ticker, event_type,
		        strike::TEXT, premium_per_contract::TEXT, contracts, occurred_at
		 FROM trade_events ORDER BY occurred_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) InsertDeposit(ctx context.Context, dep *model.Deposit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deposits (id, type, amount, deposit_date, notes)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		dep.ID, dep.Type, dep.Amount.String(), dep.DepositDate, dep.Notes,
	)
	return err
}

func (s *PostgresStore) ListDeposits(ctx context.Context) ([]model.Deposit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, amount::TEXT, deposit_date, COALESCE(notes, '')
		 FROM deposits ORDER BY deposit_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []model.Deposit
	for rows.Next() {
		var d model.Deposit
		var amountS string
		if err := rows.Scan(&d.ID, &d.Type, &amountS, &d.DepositDate, &d.Notes); err != nil {
			return nil, err
		}
		d.Amount, _ = decimal.NewFromString(amountS)
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var costBasisS, premiumS, realizedS string
	var closedAt *time.Time

	if err := row.Scan(&p.ID, &p.Ticker, &p.Status, &p.Contracts, &p.SharesHeld,
		&costBasisS, &premiumS, &realizedS,
		&p.CallExpiries, &p.OpenedAt, &closedAt, &p.LastEventAt, &p.Version); err != nil {
		return nil, err
	}

	p.CostBasisPerShare, _ = decimal.NewFromString(costBasisS)
	p.PremiumCollected, _ = decimal.NewFromString(premiumS)
	p.RealizedPL, _ = decimal.NewFromString(realizedS)
	p.ClosedAt = closedAt
	return &p, nil
}

func scanEvents(rows pgx.Rows) ([]model.TradeEvent, error) {
	var events []model.TradeEvent
	for rows.Next() {
		var e model.TradeEvent
		var strikeS, premiumS string

		if err := rows.Scan(&e.ID, &e.PositionID, &e.Ticker, &e.EventType,
			&strikeS, &premiumS, &e.Contracts, &e.OccurredAt); err != nil {
			return nil, err
		}

		e.Strike, _ = decimal.NewFromString(strikeS)
		e.PremiumPerContract, _ = decimal.NewFromString(premiumS)

		events = append(events, e)
	}
	return events, rows.Err()
}
