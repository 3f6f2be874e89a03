package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelhouse/wheel-engine/internal/pnl"
)

// TimePoint is one entry of the cumulative P&L series. The value is the
// running total of all dated contributions up to and including the bucket,
// not the per-bucket delta.
type TimePoint struct {
	Date              string          `json:"date"`
	CumulativeTotalPL decimal.Decimal `json:"cumulative_total_pl"`
}

// TickerPL is the per-ticker P&L rollup.
type TickerPL struct {
	Ticker       string          `json:"ticker"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	PremiumPL    decimal.Decimal `json:"premium_pl"`
	TotalPL      decimal.Decimal `json:"total_pl"`
}

// WinRateData reports winners over closed positions. Raw counts are
// included so callers can distinguish "no data" from a 0% win rate.
type WinRateData struct {
	WinRate         float64 `json:"win_rate"`
	Winners         int     `json:"winners"`
	ClosedPositions int     `json:"closed_positions"`
}

// FilterByRange keeps the results whose dated contributions intersect
// [cutoff, now]. For All every result passes.
func FilterByRange(results []pnl.Result, rng Range, now time.Time) []pnl.Result {
	cutoff, bounded := rng.Cutoff(now)
	if !bounded {
		return results
	}

	var out []pnl.Result
	for _, r := range results {
		for _, c := range r.Contributions {
			if !c.Date.Before(cutoff) && !c.Date.After(now) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// PLOverTime buckets the filtered contributions chronologically and emits
// the cumulative total per bucket. Unrealized P&L carries no date and is
// deliberately absent from the series.
func PLOverTime(results []pnl.Result, rng Range, now time.Time) []TimePoint {
	cutoff, bounded := rng.Cutoff(now)

	byBucket := make(map[time.Time]decimal.Decimal)
	for _, r := range results {
		for _, c := range r.Contributions {
			if bounded && (c.Date.Before(cutoff) || c.Date.After(now)) {
				continue
			}
			bucket := rng.BucketStart(c.Date)
			byBucket[bucket] = byBucket[bucket].Add(c.Amount)
		}
	}

	buckets := make([]time.Time, 0, len(byBucket))
	for b := range byBucket {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	series := make([]TimePoint, 0, len(buckets))
	running := decimal.Zero
	for _, b := range buckets {
		running = running.Add(byBucket[b])
		series = append(series, TimePoint{
			Date:              b.Format("2006-01-02"),
			CumulativeTotalPL: running.Round(2),
		})
	}
	return series
}

// PLByTicker groups results by ticker and sums each P&L component.
// Ordered by descending total P&L, ties broken alphabetically, so the
// output is deterministic.
func PLByTicker(results []pnl.Result) []TickerPL {
	byTicker := make(map[string]*TickerPL)
	for _, r := range results {
		t, ok := byTicker[r.Position.Ticker]
		if !ok {
			t = &TickerPL{Ticker: r.Position.Ticker}
			byTicker[r.Position.Ticker] = t
		}
		t.RealizedPL = t.RealizedPL.Add(r.RealizedPL)
		t.UnrealizedPL = t.UnrealizedPL.Add(r.UnrealizedPL)
		t.PremiumPL = t.PremiumPL.Add(r.PremiumPL)
		t.TotalPL = t.TotalPL.Add(r.TotalPL)
	}

	out := make([]TickerPL, 0, len(byTicker))
	for _, t := range byTicker {
		t.RealizedPL = t.RealizedPL.Round(2)
		t.UnrealizedPL = t.UnrealizedPL.Round(2)
		t.PremiumPL = t.PremiumPL.Round(2)
		t.TotalPL = t.TotalPL.Round(2)
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalPL.Equal(out[j].TotalPL) {
			return out[i].TotalPL.GreaterThan(out[j].TotalPL)
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// WinRate computes winners / closed positions, defined as 0 (not NaN)
// when no positions have closed.
func WinRate(results []pnl.Result) WinRateData {
	var data WinRateData
	for _, r := range results {
		if !r.Closed() {
			continue
		}
		data.ClosedPositions++
		if r.Winner() {
			data.Winners++
		}
	}
	if data.ClosedPositions > 0 {
		data.WinRate = float64(data.Winners) / float64(data.ClosedPositions)
	}
	return data
}
