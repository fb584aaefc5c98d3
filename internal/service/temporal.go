package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"priceaggregator/internal/stats"
)

// Window is a named trailing interval for moving averages.
type Window struct {
	Label    string
	Duration time.Duration
}

// MovingAverageWindows are reported in this order.
var MovingAverageWindows = []Window{
	{"30_minutes", 30 * time.Minute},
	{"1_hour", time.Hour},
	{"6_hours", 6 * time.Hour},
	{"12_hours", 12 * time.Hour},
	{"24_hours", 24 * time.Hour},
}

// MovementDays are the look-back periods for price movement.
var MovementDays = []int{1, 2, 3, 7, 14, 30}

// Nearest picks the row closest to target from the latest row at or before it
// and the earliest row after it. A row exactly at target wins outright and an
// equal distance goes to the later row.
func Nearest[T any](before, after *T, ts func(*T) time.Time, target time.Time) (*T, bool) {
	switch {
	case before == nil && after == nil:
		return nil, false
	case before == nil:
		return after, true
	case after == nil:
		return before, true
	}
	bt := ts(before)
	if bt.Equal(target) {
		return before, true
	}
	if ts(after).Sub(target) <= target.Sub(bt) {
		return after, true
	}
	return before, true
}

// ValuesBetween loads the sample values with from <= ts <= to.
type ValuesBetween func(ctx context.Context, from, to time.Time) ([]decimal.Decimal, error)

// MovingAverages returns the mean of the samples in each window ending at ref.
// Windows with fewer than two samples or a non-finite mean are omitted.
func MovingAverages(ctx context.Context, load ValuesBetween, ref time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(MovingAverageWindows))
	for _, w := range MovingAverageWindows {
		vals, err := load(ctx, ref.Add(-w.Duration), ref)
		if err != nil {
			return nil, err
		}
		if len(vals) < 2 {
			continue
		}
		floats := make([]float64, len(vals))
		for i, v := range vals {
			floats[i] = v.InexactFloat64()
		}
		m := stats.Mean(floats)
		if !stats.IsFinite(m) {
			continue
		}
		out[w.Label] = m
	}
	return out, nil
}

// MovementPct returns 100*(latest-past)/past. ok is false when past is zero.
func MovementPct(latest, past decimal.Decimal) (decimal.Decimal, bool) {
	if past.IsZero() {
		return decimal.Zero, false
	}
	return latest.Sub(past).Div(past).Mul(hundred), true
}
