// Package pnl computes per-position profit and loss. Three components are
// computed independently and summed, never double-counted:
//
//   - premium P&L: signed option-leg cash flows, realized the moment an
//     option is sold or bought back
//   - realized P&L: the share-disposal leg, present once assigned shares
//     have been sold via call-away
//   - unrealized P&L: mark-to-market on held shares, via the injected
//     price provider
//
// All arithmetic uses shopspring/decimal at full precision; rounding to
// two decimals happens only at the presentation boundary.
package pnl

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wheelhouse/wheel-engine/internal/metrics"
	"github.com/wheelhouse/wheel-engine/internal/model"
	"github.com/wheelhouse/wheel-engine/internal/price"
)

// maxParallelLookups bounds concurrent price fetches in ComputeAll.
const maxParallelLookups = 8

// Contribution is a dated P&L cash flow (premium leg or share disposal),
// used by the aggregator to bucket P&L over time. Unrealized P&L has no
// date and never appears here.
type Contribution struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Result is the computed economics of one position.
type Result struct {
	Position model.Position

	PremiumPL    decimal.Decimal
	RealizedPL   decimal.Decimal
	UnrealizedPL decimal.Decimal
	TotalPL      decimal.Decimal

	// UnrealizedKnown is false when the position holds shares but no
	// price, not even a cached one, could be produced. TotalPL then
	// excludes the unrealized component.
	UnrealizedKnown bool

	// PriceStale is set when the mark price came from a fallback cache
	// or was unavailable. Surfaced to callers as a flag, never an error.
	PriceStale bool

	MarkPrice decimal.Decimal // zero unless shares are held and a price was found

	Contributions []Contribution
}

// Closed reports whether the underlying position has reached a terminal state.
func (r *Result) Closed() bool { return r.Position.IsTerminal() }

// Winner reports whether this is a closed position with positive total P&L.
func (r *Result) Winner() bool { return r.Closed() && r.TotalPL.IsPositive() }

// Engine computes position economics against an injected price provider.
type Engine struct {
	provider price.Provider
}

// NewEngine creates a P&L engine. The provider is only consulted for
// positions currently holding shares.
func NewEngine(provider price.Provider) *Engine {
	return &Engine{provider: provider}
}

// Compute derives the P&L of one position from its ordered event sequence.
// Premium and realized components are recomputed from the ledger rather
// than trusted from the snapshot, so the result is a pure function of
// (events, market price).
func (e *Engine) Compute(ctx context.Context, pos model.Position, events []model.TradeEvent) Result {
	res := Result{
		Position:        pos,
		UnrealizedKnown: true,
	}

	costBasis := decimal.Zero
	sharesHeld := 0
	for _, ev := range events {
		if ev.IsOptionLeg() {
			flow := ev.PremiumCashFlow()
			res.PremiumPL = res.PremiumPL.Add(flow)
			res.Contributions = append(res.Contributions, Contribution{Date: ev.OccurredAt, Amount: flow})
			continue
		}
		switch ev.EventType {
		case model.EventAssignment:
			sharesHeld = ev.Contracts * model.SharesPerContract
			costBasis = ev.Strike
		case model.EventCalledAway:
			proceeds := ev.Strike.Sub(costBasis).Mul(decimal.NewFromInt(int64(sharesHeld)))
			res.RealizedPL = res.RealizedPL.Add(proceeds)
			res.Contributions = append(res.Contributions, Contribution{Date: ev.OccurredAt, Amount: proceeds})
			sharesHeld = 0
		}
	}

	if pos.HoldsShares() {
		quote, err := e.provider.Fetch(ctx, pos.Ticker)
		if err != nil {
			// Reported as unavailable, not zero: the position is flagged
			// stale rather than silently marked flat.
			res.UnrealizedKnown = false
			res.PriceStale = true
		} else {
			shares := decimal.NewFromInt(int64(pos.SharesHeld))
			res.UnrealizedPL = quote.Price.Sub(pos.CostBasisPerShare).Mul(shares)
			res.MarkPrice = quote.Price
			res.PriceStale = quote.Stale
		}
		if res.PriceStale {
			metrics.StalePriceResults.Inc()
		}
	}

	res.TotalPL = res.PremiumPL.Add(res.RealizedPL)
	if res.UnrealizedKnown {
		res.TotalPL = res.TotalPL.Add(res.UnrealizedPL)
	}
	return res
}

// ComputeAll computes results for every position with bounded-parallel
// price lookups. Result order matches the input order. The only error
// source is context cancellation; price failures degrade to stale flags.
func (e *Engine) ComputeAll(ctx context.Context, positions []model.Position, eventsByPosition map[string][]model.TradeEvent) ([]Result, error) {
	results := make([]Result, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)

	for i, pos := range positions {
		i, pos := i, pos
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.Compute(gctx, pos, eventsByPosition[pos.ID])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
