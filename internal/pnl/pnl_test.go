package pnl_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/wheelhouse/wheel-engine/internal/lifecycle"
	"github.com/wheelhouse/wheel-engine/internal/metrics"
	"github.com/wheelhouse/wheel-engine/internal/model"
	"github.com/wheelhouse/wheel-engine/internal/pnl"
	"github.com/wheelhouse/wheel-engine/internal/price"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func event(eventType string, strike, premium float64, contracts int, at time.Time) model.TradeEvent {
	return model.TradeEvent{
		ID:                 "ev-" + eventType + at.Format("20060102"),
		Ticker:             "AAPL",
		EventType:          eventType,
		Strike:             d(strike),
		PremiumPerContract: d(premium),
		Contracts:          contracts,
		OccurredAt:         at,
	}
}

// replay builds the position snapshot the engine would receive.
func replay(t *testing.T, events []model.TradeEvent) model.Position {
	t.Helper()
	pos, err := lifecycle.Replay("pos1", events)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	return pos
}

func TestCompute_FullWheelCycle(t *testing.T) {
	// SELL_TO_OPEN_PUT 50 @ 1.20 → ASSIGNMENT → SELL_TO_OPEN_CALL 52 @ 0.80
	// → CALLED_AWAY at 52: premium 200, realized 200, total 400.
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventAssignment, 50, 0, 1, day(7)),
		event(model.EventSellToOpenCall, 52, 0.80, 1, day(8)),
		event(model.EventCalledAway, 52, 0, 1, day(21)),
	}
	pos := replay(t, events)

	engine := pnl.NewEngine(price.Static{})
	res := engine.Compute(context.Background(), pos, events)

	if !res.PremiumPL.Equal(d(200)) {
		t.Errorf("expected premium 200, got %s", res.PremiumPL)
	}
	if !res.RealizedPL.Equal(d(200)) {
		t.Errorf("expected realized 200, got %s", res.RealizedPL)
	}
	if !res.UnrealizedPL.IsZero() {
		t.Errorf("closed position should have zero unrealized, got %s", res.UnrealizedPL)
	}
	if !res.TotalPL.Equal(d(400)) {
		t.Errorf("expected total 400, got %s", res.TotalPL)
	}
	if res.PriceStale {
		t.Error("closed position should not be stale")
	}
	if !res.Winner() {
		t.Error("expected a winner")
	}
}

func TestCompute_PutExpiredWorthless(t *testing.T) {
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventExpiredWorthless, 0, 0, 1, day(30)),
	}
	pos := replay(t, events)

	engine := pnl.NewEngine(price.Static{})
	res := engine.Compute(context.Background(), pos, events)

	if !res.PremiumPL.Equal(d(120)) {
		t.Errorf("expected premium 120, got %s", res.PremiumPL)
	}
	if !res.RealizedPL.IsZero() {
		t.Errorf("expected realized 0, got %s", res.RealizedPL)
	}
	if !res.TotalPL.Equal(d(120)) {
		t.Errorf("expected total 120, got %s", res.TotalPL)
	}
	if pos.Status != model.StatusPutExpired {
		t.Errorf("expected PUT_EXPIRED, got %s", pos.Status)
	}
}

func TestCompute_BuyToCloseNetsPremium(t *testing.T) {
	// Sell at 1.20, buy back at 0.50: premium P&L nets to 70.
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventBuyToClosePut, 50, 0.50, 1, day(10)),
	}
	pos := replay(t, events)

	engine := pnl.NewEngine(price.Static{})
	res := engine.Compute(context.Background(), pos, events)

	if !res.PremiumPL.Equal(d(70)) {
		t.Errorf("expected premium 70, got %s", res.PremiumPL)
	}
	if !res.TotalPL.Equal(d(70)) {
		t.Errorf("expected total 70, got %s", res.TotalPL)
	}
}

func TestCompute_UnrealizedFromProvider(t *testing.T) {
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventAssignment, 50, 0, 1, day(7)),
	}
	pos := replay(t, events)

	engine := pnl.NewEngine(price.Static{"AAPL": d(55)})
	res := engine.Compute(context.Background(), pos, events)

	// (55 - 50) * 100 shares.
	if !res.UnrealizedPL.Equal(d(500)) {
		t.Errorf("expected unrealized 500, got %s", res.UnrealizedPL)
	}
	if !res.TotalPL.Equal(d(620)) {
		t.Errorf("expected total 620 (120 premium + 500 unrealized), got %s", res.TotalPL)
	}
	if !res.UnrealizedKnown {
		t.Error("unrealized should be known")
	}
	if res.PriceStale {
		t.Error("fresh quote should not be stale")
	}
	if !res.MarkPrice.Equal(d(55)) {
		t.Errorf("expected mark price 55, got %s", res.MarkPrice)
	}
}

func TestCompute_PriceFailureMarksStale(t *testing.T) {
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventAssignment, 50, 0, 1, day(7)),
	}
	pos := replay(t, events)

	// No price available for AAPL.
	engine := pnl.NewEngine(price.Static{})
	res := engine.Compute(context.Background(), pos, events)

	if res.UnrealizedKnown {
		t.Error("unrealized should be reported unavailable, not zero")
	}
	if !res.PriceStale {
		t.Error("expected stale flag on lookup failure")
	}
	// Total still carries the dated components.
	if !res.TotalPL.Equal(d(120)) {
		t.Errorf("expected total 120 without unrealized, got %s", res.TotalPL)
	}
}

func TestCompute_CountsStalePriceResults(t *testing.T) {
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventAssignment, 50, 0, 1, day(7)),
	}
	pos := replay(t, events)
	engine := pnl.NewEngine(price.Static{})

	before := testutil.ToFloat64(metrics.StalePriceResults)
	engine.Compute(context.Background(), pos, events)
	after := testutil.ToFloat64(metrics.StalePriceResults)

	if after != before+1 {
		t.Errorf("expected one stale result counted, got %v", after-before)
	}
}

func TestCompute_ContributionsAreDated(t *testing.T) {
	events := []model.TradeEvent{
		event(model.EventSellToOpenPut, 50, 1.20, 1, day(0)),
		event(model.EventAssignment, 50, 0, 1, day(7)),
		event(model.EventSellToOpenCall, 52, 0.80, 1, day(8)),
		event(model.EventCalledAway, 52, 0, 1, day(21)),
	}
	pos := replay(t, events)

	engine := pnl.NewEngine(price.Static{})
	res := engine.Compute(context.Background(), pos, events)

	// Two premium legs plus the share-disposal leg; assignment itself
	// contributes no cash flow.
	if len(res.Contributions) != 3 {
		t.Fatalf("expected 3 contributions, got %d", len(res.Contributions))
	}
	sum := decimal.Zero
	for _, c := range res.Contributions {
		sum = sum.Add(c.Amount)
	}
	if !sum.Equal(res.TotalPL) {
		t.Errorf("dated contributions should sum to total for a closed position: %s vs %s", sum, res.TotalPL)
	}
	if !res.Contributions[2].Date.Equal(day(21)) {
		t.Errorf("disposal contribution should carry the call-away date, got %s", res.Contributions[2].Date)
	}
}

func TestComputeAll_PreservesOrder(t *testing.T) {
	mk := func(id, ticker string) (model.Position, []model.TradeEvent) {
		ev := model.TradeEvent{
			ID: "open-" + id, Ticker: ticker, EventType: model.EventSellToOpenPut,
			Strike: d(50), PremiumPerContract: d(1), Contracts: 1, OccurredAt: day(0),
		}
		pos, err := lifecycle.Open(id, ev)
		if err != nil {
			t.Fatal(err)
		}
		return pos, []model.TradeEvent{ev}
	}

	var positions []model.Position
	eventsByPosition := make(map[string][]model.TradeEvent)
	for _, tc := range []struct{ id, ticker string }{
		{"p1", "AAPL"}, {"p2", "MSFT"}, {"p3", "F"},
	} {
		pos, evs := mk(tc.id, tc.ticker)
		positions = append(positions, pos)
		eventsByPosition[tc.id] = evs
	}

	engine := pnl.NewEngine(price.Static{})
	results, err := engine.ComputeAll(context.Background(), positions, eventsByPosition)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if results[i].Position.ID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, results[i].Position.ID)
		}
	}
}
