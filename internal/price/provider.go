// Package price defines the market-price lookup collaborator. The P&L
// engine only depends on the Provider interface; implementations carry
// their own timeout and fallback policy so a failed lookup degrades to a
// stale mark instead of failing a whole report.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when no price can be produced for a ticker,
// not even a cached one. Callers treat it as "mark stale", never as fatal.
var ErrUnavailable = errors.New("price: quote unavailable")

// Quote is a point-in-time market price for one ticker. Stale is set when
// the quote was served from a fallback cache past its freshness window.
type Quote struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
	Stale  bool            `json:"stale,omitempty"`
}

// Provider fetches the current market price for a ticker.
type Provider interface {
	Fetch(ctx context.Context, ticker string) (Quote, error)
}

// HTTPProvider fetches quotes from an external quote API:
// GET {baseURL}/quote?symbol={ticker} → {"symbol":..,"price":"..","as_of":".."}
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given quote API base URL.
// The timeout bounds each lookup so a slow upstream cannot stall a report.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context, ticker string) (Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s", p.baseURL, url.QueryEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: upstream returned %d for %s", ErrUnavailable, resp.StatusCode, ticker)
	}

	var body struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
		AsOf   time.Time       `json:"as_of"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if !body.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: non-positive price for %s", ErrUnavailable, ticker)
	}

	asOf := body.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return Quote{Ticker: ticker, Price: body.Price, AsOf: asOf}, nil
}

// Static is a fixed price table, used in tests and offline runs. Tickers
// absent from the table return ErrUnavailable.
type Static map[string]decimal.Decimal

func (s Static) Fetch(_ context.Context, ticker string) (Quote, error) {
	p, ok := s[ticker]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no static price for %s", ErrUnavailable, ticker)
	}
	return Quote{Ticker: ticker, Price: p, AsOf: time.Now().UTC()}, nil
}
