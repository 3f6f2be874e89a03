// Package trade provides the HTTP handlers and business logic for
// appending ledger events, querying positions, and recording deposits.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wheelhouse/wheel-engine/internal/lifecycle"
	"github.com/wheelhouse/wheel-engine/internal/metrics"
	"github.com/wheelhouse/wheel-engine/internal/model"
	"github.com/wheelhouse/wheel-engine/internal/pnl"
	"github.com/wheelhouse/wheel-engine/internal/store"
)

// Service handles ledger operations. Concurrent transitions on the same
// position are serialized through the store's optimistic version check
// rather than a process-wide lock, so two racing appends cannot both land.
type Service struct {
	store  store.Store
	engine *pnl.Engine
	wsHub  *WSHub // optional WebSocket hub for position-update broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *pnl.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		engine: engine,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// AppendEventRequest is the JSON body for POST /events. EventID is an
// optional client-supplied idempotency key; resubmitting the same ID is
// a no-op returning the current position. PositionID may be omitted for
// the opening SELL_TO_OPEN_PUT of a new cycle, or to target the ticker's
// single open cycle.
type AppendEventRequest struct {
	EventID            string          `json:"event_id,omitempty"`
	PositionID         string          `json:"position_id,omitempty"`
	Ticker             string          `json:"ticker"`
	EventType          string          `json:"event_type"`
	Strike             decimal.Decimal `json:"strike"`
	PremiumPerContract decimal.Decimal `json:"premium_per_contract"`
	Contracts          int             `json:"contracts"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

// AppendEventResponse is returned from POST /events.
type AppendEventResponse struct {
	Event    model.TradeEvent `json:"event"`
	Position model.Position   `json:"position"`
	// Duplicate is set when the event ID had been appended before and
	// the call was treated as an idempotent no-op.
	Duplicate bool `json:"duplicate,omitempty"`
}

// PositionView is a position snapshot with its computed economics, the
// read surface consumed by the notification scheduler among others.
type PositionView struct {
	model.Position
	PremiumPL       decimal.Decimal `json:"premium_pl"`
	RealizedPLTotal decimal.Decimal `json:"realized_pl_total"`
	UnrealizedPL    decimal.Decimal `json:"unrealized_pl"`
	TotalPL         decimal.Decimal `json:"total_pl"`
	PriceStale      bool            `json:"price_stale"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
}

// PositionDetail is PositionView plus the position's ordered event history.
type PositionDetail struct {
	PositionView
	Events []model.TradeEvent `json:"events"`
}

// --- HTTP Handlers ---

// AppendEvent handles POST /api/v1/events.
// Folds the event through the lifecycle state machine and persists the
// new snapshot; the ledger is left untouched on any rejection.
func (s *Service) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	event := model.TradeEvent{
		ID:                 req.EventID,
		PositionID:         req.PositionID,
		Ticker:             req.Ticker,
		EventType:          req.EventType,
		Strike:             req.Strike,
		PremiumPerContract: req.PremiumPerContract,
		Contracts:          req.Contracts,
		OccurredAt:         req.OccurredAt,
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if err := event.Validate(time.Now().UTC()); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// A client-supplied idempotency key that is already in the ledger makes
	// the whole call a no-op. This must run before the lifecycle fold: the
	// original append advanced the position, so replaying the event against
	// the current state would be rejected as an illegal transition.
	if req.EventID != "" {
		if _, err := s.store.GetEvent(ctx, event.ID); err == nil {
			s.respondDuplicate(w, r, event)
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			writeError(w, "failed to look up event", http.StatusInternalServerError)
			return
		}
	}

	// Resolve the target position: explicit ID, or the ticker's open cycle.
	var pos *model.Position
	var err error
	if req.PositionID != "" {
		pos, err = s.store.GetPosition(ctx, req.PositionID)
		if err != nil {
			writeError(w, "position not found: "+req.PositionID, http.StatusNotFound)
			return
		}
	} else {
		pos, err = s.store.GetOpenPositionByTicker(ctx, event.Ticker)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			writeError(w, "failed to look up position", http.StatusInternalServerError)
			return
		}
	}

	var next model.Position
	var expectedVersion int64
	if pos == nil {
		// No open cycle: only an opening put can start one.
		next, err = lifecycle.Open(uuid.New().String(), event)
	} else {
		expectedVersion = pos.Version
		event.PositionID = pos.ID
		next, err = lifecycle.Apply(*pos, event)
	}
	if err != nil {
		metrics.TransitionRejections.Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	event.PositionID = next.ID

	if err := s.store.AppendEvent(ctx, &event, &next, expectedVersion); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEvent):
			s.respondDuplicate(w, r, event)
		case errors.Is(err, store.ErrVersionConflict):
			metrics.VersionConflicts.Inc()
			writeError(w, "position changed concurrently, re-read and retry", http.StatusConflict)
		default:
			slog.Error("append failed", "event_id", event.ID, "err", err)
			writeError(w, "failed to record event", http.StatusInternalServerError)
		}
		return
	}

	metrics.EventsAppended.WithLabelValues(event.EventType).Inc()
	slog.Info("event appended",
		"event_id", event.ID,
		"position_id", next.ID,
		"ticker", event.Ticker,
		"event_type", event.EventType,
		"status", next.Status,
		"version", next.Version,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "position_updated",
			PositionID: next.ID,
			Ticker:     next.Ticker,
			Status:     next.Status,
			EventType:  event.EventType,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AppendEventResponse{Event: event, Position: next})
}

// respondDuplicate returns the current snapshot for an already-appended
// event ID, making resubmission idempotent-safe.
func (s *Service) respondDuplicate(w http.ResponseWriter, r *http.Request, event model.TradeEvent) {
	// The resubmission may have been routed to a fresh position ID;
	// resolve the position the original append landed on.
	original, err := s.store.GetEvent(r.Context(), event.ID)
	if err != nil {
		writeError(w, "failed to load original event", http.StatusInternalServerError)
		return
	}
	pos, err := s.store.GetPosition(r.Context(), original.PositionID)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	event = *original
	slog.Info("duplicate event ignored", "event_id", event.ID, "position_id", pos.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AppendEventResponse{Event: event, Position: *pos, Duplicate: true})
}

// ListPositions handles GET /api/v1/positions?ticker=&status=.
// Returns every matching position with its current P&L and status.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := store.PositionFilter{
		Ticker: r.URL.Query().Get("ticker"),
		Status: r.URL.Query().Get("status"),
	}

	positions, err := s.store.ListPositions(ctx, filter)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}

	eventsByPosition := make(map[string][]model.TradeEvent, len(positions))
	for _, p := range positions {
		events, err := s.store.ListEventsByPosition(ctx, p.ID)
		if err != nil {
			writeError(w, "failed to load events", http.StatusInternalServerError)
			return
		}
		eventsByPosition[p.ID] = events
	}

	results, err := s.engine.ComputeAll(ctx, positions, eventsByPosition)
	if err != nil {
		writeError(w, "failed to compute P&L", http.StatusInternalServerError)
		return
	}

	views := make([]PositionView, 0, len(results))
	for _, res := range results {
		views = append(views, newPositionView(res))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetPosition handles GET /api/v1/positions/{positionID}.
// Returns the snapshot, its economics, and the full event history.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positionID := chi.URLParam(r, "positionID")

	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	events, err := s.store.ListEventsByPosition(ctx, positionID)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	res := s.engine.Compute(ctx, *pos, events)
	detail := PositionDetail{
		PositionView: newPositionView(res),
		Events:       events,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// CreateDeposit handles POST /api/v1/deposits.
func (s *Service) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var dep model.Deposit
	if err := json.NewDecoder(r.Body).Decode(&dep); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := dep.Validate(time.Now().UTC()); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if dep.ID == "" {
		dep.ID = uuid.New().String()
	}

	if err := s.store.InsertDeposit(r.Context(), &dep); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			writeError(w, "deposit already recorded: "+dep.ID, http.StatusConflict)
			return
		}
		writeError(w, "failed to record deposit", http.StatusInternalServerError)
		return
	}

	slog.Info("deposit recorded", "id", dep.ID, "type", dep.Type, "amount", dep.Amount.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dep)
}

// ListDeposits handles GET /api/v1/deposits.
func (s *Service) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := s.store.ListDeposits(r.Context())
	if err != nil {
		writeError(w, "failed to list deposits", http.StatusInternalServerError)
		return
	}
	if deposits == nil {
		deposits = []model.Deposit{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deposits)
}

// newPositionView rounds a result's economics for presentation.
func newPositionView(res pnl.Result) PositionView {
	return PositionView{
		Position:        res.Position,
		PremiumPL:       res.PremiumPL.Round(2),
		RealizedPLTotal: res.RealizedPL.Round(2),
		UnrealizedPL:    res.UnrealizedPL.Round(2),
		TotalPL:         res.TotalPL.Round(2),
		PriceStale:      res.PriceStale,
		MarkPrice:       res.MarkPrice.Round(2),
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
