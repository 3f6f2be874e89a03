// Package model defines the core domain types shared across the wheel engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Trade event types. Each is an immutable fact in a position's history.
const (
	EventSellToOpenPut    = "SELL_TO_OPEN_PUT"
	EventBuyToClosePut    = "BUY_TO_CLOSE_PUT"
	EventSellToOpenCall   = "SELL_TO_OPEN_CALL"
	EventBuyToCloseCall   = "BUY_TO_CLOSE_CALL"
	EventAssignment       = "ASSIGNMENT"
	EventCalledAway       = "CALLED_AWAY"
	EventExpiredWorthless = "EXPIRED_WORTHLESS"
)

var validEventTypes = map[string]bool{
	EventSellToOpenPut:    true,
	EventBuyToClosePut:    true,
	EventSellToOpenCall:   true,
	EventBuyToCloseCall:   true,
	EventAssignment:       true,
	EventCalledAway:       true,
	EventExpiredWorthless: true,
}

// Position lifecycle states. A call expiring worthless folds back into
// ASSIGNED (shares are retained); Position.CallExpiries records that it
// happened.
const (
	StatusPutOpen    = "PUT_OPEN"
	StatusAssigned   = "ASSIGNED"
	StatusCallOpen   = "CALL_OPEN"
	StatusCalledAway = "CALLED_AWAY"
	StatusPutExpired = "PUT_EXPIRED"
	StatusClosed     = "CLOSED"
)

// Deposit types.
const (
	DepositTypeDeposit    = "DEPOSIT"
	DepositTypeWithdrawal = "WITHDRAWAL"
)

// tickerRegex matches exchange-style underlying symbols: AAPL, F, BRK.B.
var tickerRegex = regexp.MustCompile(`^[A-Z]{1,6}(\.[A-Z])?$`)

// ErrValidation is the sentinel wrapped by every malformed-input error.
// Handlers map it to HTTP 400 with the specific violated constraint.
var ErrValidation = errors.New("model: validation failed")

// SharesPerContract is the standard US equity option multiplier.
const SharesPerContract = 100

// TradeEvent is an immutable record of one option or share leg in a wheel
// cycle. Once persisted these are never modified or deleted; corrections
// are modeled as new offsetting events.
type TradeEvent struct {
	ID                 string          `json:"id" db:"id"`
	PositionID         string          `json:"position_id" db:"position_id"`
	Ticker             string          `json:"ticker" db:"ticker"`
	EventType          string          `json:"event_type" db:"event_type"`
	Strike             decimal.Decimal `json:"strike" db:"strike"`
	PremiumPerContract decimal.Decimal `json:"premium_per_contract" db:"premium_per_contract"`
	Contracts          int             `json:"contracts" db:"contracts"`
	OccurredAt         time.Time       `json:"occurred_at" db:"occurred_at"`
}

// Validate checks the event against input constraints. Lifecycle rules
// (ordering, transition legality) are checked separately by the state
// machine; this only rejects inputs that are malformed on their face.
func (e *TradeEvent) Validate(now time.Time) error {
	if e.Ticker == "" || !tickerRegex.MatchString(e.Ticker) {
		return fmt.Errorf("%w: invalid ticker %q", ErrValidation, e.Ticker)
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.EventType)
	}
	if e.Contracts <= 0 {
		return fmt.Errorf("%w: contracts must be positive, got %d", ErrValidation, e.Contracts)
	}
	if e.Strike.IsNegative() {
		return fmt.Errorf("%w: strike must not be negative", ErrValidation)
	}
	if e.PremiumPerContract.IsNegative() {
		return fmt.Errorf("%w: premium_per_contract must not be negative", ErrValidation)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrValidation)
	}
	if e.OccurredAt.After(now) {
		return fmt.Errorf("%w: occurred_at must not be in the future", ErrValidation)
	}
	return nil
}

// IsOptionLeg reports whether the event carries a premium cash flow.
func (e *TradeEvent) IsOptionLeg() bool {
	switch e.EventType {
	case EventSellToOpenPut, EventSellToOpenCall, EventBuyToClosePut, EventBuyToCloseCall:
		return true
	}
	return false
}

// PremiumCashFlow returns the signed premium amount of an option leg:
// positive for sells, negative for buy-to-close, zero for share legs.
func (e *TradeEvent) PremiumCashFlow() decimal.Decimal {
	gross := e.PremiumPerContract.
		Mul(decimal.NewFromInt(int64(e.Contracts))).
		Mul(decimal.NewFromInt(SharesPerContract))
	switch e.EventType {
	case EventSellToOpenPut, EventSellToOpenCall:
		return gross
	case EventBuyToClosePut, EventBuyToCloseCall:
		return gross.Neg()
	}
	return decimal.Zero
}

// Position is a derived, versioned aggregate representing one wheel cycle
// on one ticker. It owns an ordered sequence of TradeEvents and becomes
// immutable once Status reaches a terminal state.
type Position struct {
	ID        string `json:"id" db:"id"`
	Ticker    string `json:"ticker" db:"ticker"`
	Status    string `json:"status" db:"status"`
	Contracts int    `json:"contracts" db:"contracts"` // currently open contract count

	SharesHeld        int             `json:"shares_held" db:"shares_held"`
	CostBasisPerShare decimal.Decimal `json:"cost_basis_per_share" db:"cost_basis_per_share"`

	// PremiumCollected is gross premium from sell legs only. Monotonically
	// non-decreasing while open, frozen at close.
	PremiumCollected decimal.Decimal `json:"premium_collected" db:"premium_collected"`

	// RealizedPL is the share-disposal leg, set when shares bought via
	// assignment are sold via call-away.
	RealizedPL decimal.Decimal `json:"realized_pl" db:"realized_pl"`

	// CallExpiries counts covered calls that expired worthless while the
	// position retained its shares.
	CallExpiries int `json:"call_expiries" db:"call_expiries"`

	OpenedAt    time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	LastEventAt time.Time  `json:"last_event_at" db:"last_event_at"`

	// Version supports optimistic concurrency: a transition is rejected if
	// the position changed since it was read.
	Version int64 `json:"version" db:"version"`
}

// IsTerminal reports whether the position accepts no further events.
func (p *Position) IsTerminal() bool {
	switch p.Status {
	case StatusCalledAway, StatusPutExpired, StatusClosed:
		return true
	}
	return false
}

// HoldsShares reports whether the position currently holds assigned shares.
func (p *Position) HoldsShares() bool {
	return p.Status == StatusAssigned || p.Status == StatusCallOpen
}

// Deposit is a cash-flow record, independent of positions. Used only for
// cash-basis return context, never for per-position P&L.
type Deposit struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"` // magnitude, always positive
	DepositDate time.Time       `json:"deposit_date" db:"deposit_date"`
	Notes       string          `json:"notes,omitempty" db:"notes"`
}

// Validate checks deposit input constraints.
func (d *Deposit) Validate(now time.Time) error {
	if d.Type != DepositTypeDeposit && d.Type != DepositTypeWithdrawal {
		return fmt.Errorf("%w: type must be DEPOSIT or WITHDRAWAL", ErrValidation)
	}
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if d.DepositDate.IsZero() {
		return fmt.Errorf("%w: deposit_date is required", ErrValidation)
	}
	if d.DepositDate.After(now) {
		return fmt.Errorf("%w: deposit_date must not be in the future", ErrValidation)
	}
	return nil
}

// Signed returns the deposit amount with its cash-flow sign applied.
func (d *Deposit) Signed() decimal.Decimal {
	if d.Type == DepositTypeWithdrawal {
		return d.Amount.Neg()
	}
	return d.Amount
}
