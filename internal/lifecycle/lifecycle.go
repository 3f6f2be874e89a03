// Package lifecycle implements the wheel-cycle state machine. A position's
// status and economics are derived by folding its trade events, in timestamp
// order, through a fixed transition table. Apply is pure: it returns a new
// snapshot and never mutates its inputs, so the caller owns persistence.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelhouse/wheel-engine/internal/model"
)

var (
	// ErrTransition is the sentinel wrapped by every rejected event.
	// The ledger is left unchanged; the caller must correct and resubmit.
	ErrTransition = errors.New("lifecycle: illegal transition")

	// ErrOutOfOrder is returned when an event's occurred_at precedes the
	// position's last recorded event.
	ErrOutOfOrder = fmt.Errorf("%w: event predates last recorded event", ErrTransition)

	// ErrContractMismatch is returned when an event's contract count does
	// not match the position's open contract count. Partial closes are not
	// supported; each wheel cycle carries a single contract lot.
	ErrContractMismatch = fmt.Errorf("%w: contract count mismatch", ErrTransition)

	// ErrTerminal is returned when an event targets a closed position.
	ErrTerminal = fmt.Errorf("%w: position is in a terminal state", ErrTransition)
)

// transitions is the (state, event) → next state table. Any pair absent
// from the table is rejected. CALL_OPEN × EXPIRED_WORTHLESS lands back on
// ASSIGNED: the shares are retained and a new covered call may be sold.
var transitions = map[string]map[string]string{
	model.StatusPutOpen: {
		model.EventBuyToClosePut:    model.StatusClosed,
		model.EventAssignment:       model.StatusAssigned,
		model.EventExpiredWorthless: model.StatusPutExpired,
	},
	model.StatusAssigned: {
		model.EventSellToOpenCall: model.StatusCallOpen,
	},
	model.StatusCallOpen: {
		model.EventBuyToCloseCall:   model.StatusAssigned,
		model.EventCalledAway:       model.StatusCalledAway,
		model.EventExpiredWorthless: model.StatusAssigned,
	},
}

// Open creates a new position from its first event, which must be a
// SELL_TO_OPEN_PUT. The caller supplies the position ID.
func Open(id string, event model.TradeEvent) (model.Position, error) {
	if event.EventType != model.EventSellToOpenPut {
		return model.Position{}, fmt.Errorf("%w: %s cannot open a position, expected %s",
			ErrTransition, event.EventType, model.EventSellToOpenPut)
	}
	return model.Position{
		ID:               id,
		Ticker:           event.Ticker,
		Status:           model.StatusPutOpen,
		Contracts:        event.Contracts,
		PremiumCollected: event.PremiumCashFlow(),
		OpenedAt:         event.OccurredAt,
		LastEventAt:      event.OccurredAt,
		Version:          1,
	}, nil
}

// Apply folds one event into the position and returns the next snapshot.
// It enforces the transition table, strict event-time ordering within the
// position, and that the event's contract count matches the open lot.
func Apply(pos model.Position, event model.TradeEvent) (model.Position, error) {
	if pos.IsTerminal() {
		return pos, fmt.Errorf("%w (%s, status %s)", ErrTerminal, pos.ID, pos.Status)
	}
	if event.OccurredAt.Before(pos.LastEventAt) {
		return pos, fmt.Errorf("%w: %s at %s, last event at %s",
			ErrOutOfOrder, event.EventType,
			event.OccurredAt.Format(time.RFC3339), pos.LastEventAt.Format(time.RFC3339))
	}
	if event.Contracts != pos.Contracts {
		return pos, fmt.Errorf("%w: event has %d, position has %d open",
			ErrContractMismatch, event.Contracts, pos.Contracts)
	}

	next, ok := transitions[pos.Status][event.EventType]
	if !ok {
		return pos, fmt.Errorf("%w: %s not allowed in state %s",
			ErrTransition, event.EventType, pos.Status)
	}

	out := pos
	out.Status = next
	out.LastEventAt = event.OccurredAt
	out.Version = pos.Version + 1

	if event.EventType == model.EventSellToOpenCall || event.EventType == model.EventSellToOpenPut {
		out.PremiumCollected = pos.PremiumCollected.Add(event.PremiumCashFlow())
	}

	switch event.EventType {
	case model.EventAssignment:
		out.SharesHeld = event.Contracts * model.SharesPerContract
		out.CostBasisPerShare = event.Strike

	case model.EventCalledAway:
		// Share-sale leg of realized P&L: proceeds at the call strike
		// against the assignment cost basis.
		shares := decimal.NewFromInt(int64(pos.SharesHeld))
		out.RealizedPL = pos.RealizedPL.Add(event.Strike.Sub(pos.CostBasisPerShare).Mul(shares))
		out.SharesHeld = 0

	case model.EventExpiredWorthless:
		if pos.Status == model.StatusCallOpen {
			out.CallExpiries = pos.CallExpiries + 1
		}
	}

	if out.IsTerminal() {
		t := event.OccurredAt
		out.ClosedAt = &t
	}
	return out, nil
}

// Replay folds a full event sequence into a position, starting from the
// opening event. Events must already be in timestamp order. Used to
// rebuild a snapshot from the ledger and in tests as the reference fold.
func Replay(id string, events []model.TradeEvent) (model.Position, error) {
	if len(events) == 0 {
		return model.Position{}, fmt.Errorf("%w: no events to replay", ErrTransition)
	}
	pos, err := Open(id, events[0])
	if err != nil {
		return model.Position{}, err
	}
	for _, e := range events[1:] {
		pos, err = Apply(pos, e)
		if err != nil {
			return model.Position{}, err
		}
	}
	return pos, nil
}
