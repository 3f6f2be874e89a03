// Package report aggregates per-position P&L into the dashboard views:
// cumulative P&L over time, per-ticker rollups, and win rate, all scoped
// to a requested time range.
package report

import (
	"fmt"
	"time"

	"github.com/wheelhouse/wheel-engine/internal/model"
)

// Range is a reporting window anchored at "now".
type Range string

const (
	Range1M  Range = "1M"
	Range3M  Range = "3M"
	Range6M  Range = "6M"
	Range1Y  Range = "1Y"
	RangeAll Range = "All"
)

// ParseRange validates a timeRange query value. Empty defaults to All;
// anything else outside the enum is a validation error.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case "":
		return RangeAll, nil
	case Range1M, Range3M, Range6M, Range1Y, RangeAll:
		return Range(s), nil
	}
	return "", fmt.Errorf("%w: time_range must be one of 1M, 3M, 6M, 1Y, All; got %q",
		model.ErrValidation, s)
}

// Cutoff resolves the window start. ok is false for All (no cutoff).
func (r Range) Cutoff(now time.Time) (cutoff time.Time, ok bool) {
	switch r {
	case Range1M:
		return now.AddDate(0, -1, 0), true
	case Range3M:
		return now.AddDate(0, -3, 0), true
	case Range6M:
		return now.AddDate(0, -6, 0), true
	case Range1Y:
		return now.AddDate(-1, 0, 0), true
	}
	return time.Time{}, false
}

// BucketStart truncates a contribution date to its time-series bucket:
// days for windows up to 3M, ISO weeks for 6M and 1Y, months for All.
func (r Range) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	switch r {
	case Range1M, Range3M:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Range6M, Range1Y:
		// Roll back to Monday.
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}
