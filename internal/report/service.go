package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wheelhouse/wheel-engine/internal/metrics"
	"github.com/wheelhouse/wheel-engine/internal/model"
	"github.com/wheelhouse/wheel-engine/internal/pnl"
	"github.com/wheelhouse/wheel-engine/internal/store"
)

// Metrics is the dashboard summary block over the filtered window.
// Monetary fields are rounded to two decimals at this boundary only.
type Metrics struct {
	OpenPositions   int             `json:"open_positions"`
	ClosedPositions int             `json:"closed_positions"`
	PremiumPL       decimal.Decimal `json:"premium_pl"`
	RealizedPL      decimal.Decimal `json:"realized_pl"`
	UnrealizedPL    decimal.Decimal `json:"unrealized_pl"`
	TotalPL         decimal.Decimal `json:"total_pl"`
	NetDeposited    decimal.Decimal `json:"net_deposited"`
}

// DashboardResponse is the assembled report. Either every sub-result is
// present or the whole request fails; no partial response is surfaced.
type DashboardResponse struct {
	TimeRange   string      `json:"time_range"`
	AsOf        time.Time   `json:"as_of"`
	Stale       bool        `json:"stale"`
	Metrics     Metrics     `json:"metrics"`
	PLOverTime  []TimePoint `json:"pl_over_time"`
	PLByTicker  []TickerPL  `json:"pl_by_ticker"`
	WinRateData WinRateData `json:"win_rate_data"`
}

// Service assembles dashboard reports from ledger data and the P&L engine.
type Service struct {
	store  store.Store
	engine *pnl.Engine
}

// NewService creates the dashboard facade.
func NewService(st store.Store, engine *pnl.Engine) *Service {
	return &Service{store: st, engine: engine}
}

// Build computes the full dashboard for one time range. The three
// aggregations run as concurrent tasks over one shared per-position P&L
// pass; the first failure cancels the rest and fails the whole report.
func (s *Service) Build(ctx context.Context, rng Range, now time.Time) (*DashboardResponse, error) {
	positions, err := s.store.ListPositions(ctx, store.PositionFilter{})
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	deposits, err := s.store.ListDeposits(ctx)
	if err != nil {
		return nil, err
	}

	eventsByPosition := make(map[string][]model.TradeEvent)
	for _, e := range events {
		eventsByPosition[e.PositionID] = append(eventsByPosition[e.PositionID], e)
	}

	results, err := s.engine.ComputeAll(ctx, positions, eventsByPosition)
	if err != nil {
		return nil, err
	}
	filtered := FilterByRange(results, rng, now)

	resp := &DashboardResponse{
		TimeRange: string(rng),
		AsOf:      now,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp.Metrics = summarize(filtered, deposits)
		return gctx.Err()
	})
	g.Go(func() error {
		resp.PLOverTime = PLOverTime(filtered, rng, now)
		return gctx.Err()
	})
	g.Go(func() error {
		resp.PLByTicker = PLByTicker(filtered)
		return gctx.Err()
	})
	g.Go(func() error {
		resp.WinRateData = WinRate(filtered)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range filtered {
		if r.PriceStale {
			resp.Stale = true
			break
		}
	}
	if resp.PLOverTime == nil {
		resp.PLOverTime = []TimePoint{}
	}
	if resp.PLByTicker == nil {
		resp.PLByTicker = []TickerPL{}
	}
	return resp, nil
}

// GetDashboard handles GET /api/v1/dashboard?timeRange={1M,3M,6M,1Y,All}.
// The response carries a bounded cache directive; a stale-priced report is
// still a success, flagged rather than failed.
func (s *Service) GetDashboard(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseRange(r.URL.Query().Get("timeRange"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := s.Build(r.Context(), rng, time.Now().UTC())
	if err != nil {
		slog.Error("dashboard assembly failed", "time_range", rng, "err", err)
		writeError(w, "failed to assemble dashboard", http.StatusInternalServerError)
		return
	}
	metrics.ReportDuration.WithLabelValues(string(rng)).Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=30")
	json.NewEncoder(w).Encode(resp)
}

// summarize rolls the filtered results and cash-flow records into the
// dashboard metrics block.
func summarize(results []pnl.Result, deposits []model.Deposit) Metrics {
	var m Metrics
	premium, realized, unrealized, total := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero

	for _, r := range results {
		if r.Closed() {
			m.ClosedPositions++
		} else {
			m.OpenPositions++
		}
		premium = premium.Add(r.PremiumPL)
		realized = realized.Add(r.RealizedPL)
		unrealized = unrealized.Add(r.UnrealizedPL)
		total = total.Add(r.TotalPL)
	}

	net := decimal.Zero
	for _, d := range deposits {
		net = net.Add(d.Signed())
	}

	m.PremiumPL = premium.Round(2)
	m.RealizedPL = realized.Round(2)
	m.UnrealizedPL = unrealized.Round(2)
	m.TotalPL = total.Round(2)
	m.NetDeposited = net.Round(2)
	return m
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
