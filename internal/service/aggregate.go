package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"priceaggregator/internal/metrics"
	"priceaggregator/internal/repository"
	"priceaggregator/internal/stats"
)

// WeightedSourceName is the synthetic source holding volume-weighted exchange quotes.
const WeightedSourceName = "Exchange Pairs Volume Weighted Average"

// WeightedFold is the volume-weighted mean of the exchange-market quotes that survived the fence.
type WeightedFold struct {
	Value        float64
	Volume       decimal.Decimal
	Constituents []repository.Quote
}

// Computation is the pure result of aggregating one candidate set.
type Computation struct {
	Weighted     *WeightedFold
	UsesWeighted bool
	Used         []repository.Quote // plain quotes that survived, the weighted quote excluded
	Value        float64
	StdDev       float64
	Variance     float64
	Rejected     int
}

// SampleCount is the number of values the statistics were computed over.
func (c *Computation) SampleCount() int {
	if c.UsesWeighted {
		return len(c.Used) + 1
	}
	return len(c.Used)
}

// OutlierStrategy selects the fence applied before the statistics are taken.
type OutlierStrategy string

const (
	// OutlierIQR drops values outside the 1.5·IQR fence.
	OutlierIQR OutlierStrategy = "iqr"
	// OutlierStdDev keeps values within a standard-deviation band widened until
	// at least three survive.
	OutlierStdDev OutlierStrategy = "stddev"
)

// ParseOutlierStrategy maps a configured name to a strategy. Empty means OutlierIQR.
func ParseOutlierStrategy(name string) (OutlierStrategy, error) {
	switch s := OutlierStrategy(strings.ToLower(strings.TrimSpace(name))); s {
	case "", OutlierIQR:
		return OutlierIQR, nil
	case OutlierStdDev:
		return s, nil
	default:
		return "", fmt.Errorf("unknown outlier strategy %q", name)
	}
}

func fence[T any](strategy OutlierStrategy, items []T, value func(T) float64) []T {
	if strategy == OutlierStdDev {
		return stats.FilterOutliersStdDev(items, value)
	}
	return stats.FilterOutliers(items, value)
}

type poolItem struct {
	quote *repository.Quote // nil for the weighted fold
	value float64
}

// Compute aggregates quotes that are already known to be valid and from active
// sources. It keeps the newest quote per source, folds exchange-market quotes
// into one volume-weighted value, fences outliers and returns population
// statistics. ErrNoData is returned when nothing usable remains.
func Compute(quotes []repository.Quote) (*Computation, error) {
	return ComputeWith(quotes, OutlierIQR)
}

// ComputeWith is Compute with an explicit outlier strategy.
func ComputeWith(quotes []repository.Quote, strategy OutlierStrategy) (*Computation, error) {
	latest := latestPerSource(quotes)
	if len(latest) == 0 {
		return nil, ErrNoData
	}

	comp := &Computation{}
	pool := make([]poolItem, 0, len(latest)+1)
	var exchange []repository.Quote
	for idx := range latest {
		q := latest[idx]
		if q.IsExchangeMarket {
			exchange = append(exchange, q)
			continue
		}
		pool = append(pool, poolItem{quote: &latest[idx], value: q.Value.InexactFloat64()})
	}

	if fold, rejected := foldExchange(exchange, strategy); fold != nil {
		comp.Weighted = fold
		comp.Rejected += rejected
		pool = append(pool, poolItem{value: fold.Value})
	}

	kept := fence(strategy, pool, func(p poolItem) float64 { return p.value })
	comp.Rejected += len(pool) - len(kept)

	values := make([]float64, 0, len(kept))
	for _, p := range kept {
		if p.value <= 0 || !stats.IsFinite(p.value) {
			continue
		}
		values = append(values, p.value)
		if p.quote == nil {
			comp.UsesWeighted = true
		} else {
			comp.Used = append(comp.Used, *p.quote)
		}
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}

	comp.Value = stats.Mean(values)
	comp.Variance = stats.PopulationVariance(values)
	comp.StdDev = stats.PopulationStdDev(values)
	if !stats.IsFinite(comp.Value) || !stats.IsFinite(comp.Variance) || !stats.IsFinite(comp.StdDev) {
		return nil, ErrNoData
	}
	return comp, nil
}

// latestPerSource keeps the most recently created quote of each source, preserving first-seen order.
func latestPerSource(quotes []repository.Quote) []repository.Quote {
	idx := make(map[int64]int, len(quotes))
	out := make([]repository.Quote, 0, len(quotes))
	for _, q := range quotes {
		if i, ok := idx[q.SourceID]; ok {
			cur := out[i]
			if q.CreatedAt.After(cur.CreatedAt) || (q.CreatedAt.Equal(cur.CreatedAt) && q.ID > cur.ID) {
				out[i] = q
			}
			continue
		}
		idx[q.SourceID] = len(out)
		out = append(out, q)
	}
	return out
}

// foldExchange returns nil when there are no exchange quotes or their total volume is zero.
func foldExchange(exchange []repository.Quote, strategy OutlierStrategy) (*WeightedFold, int) {
	if len(exchange) == 0 {
		return nil, 0
	}
	total := decimal.Zero
	for _, q := range exchange {
		total = total.Add(volumeOf(q))
	}
	if !total.IsPositive() {
		return nil, 0
	}

	survivors := fence(strategy, exchange, func(q repository.Quote) float64 { return q.Value.InexactFloat64() })
	values := make([]float64, len(survivors))
	weights := make([]float64, len(survivors))
	volume := decimal.Zero
	for i, q := range survivors {
		values[i] = q.Value.InexactFloat64()
		weights[i] = volumeOf(q).InexactFloat64()
		volume = volume.Add(volumeOf(q))
	}
	mean, ok := stats.WeightedMean(values, weights)
	if !ok || !stats.IsFinite(mean) {
		return nil, len(exchange) - len(survivors)
	}
	return &WeightedFold{Value: mean, Volume: volume, Constituents: survivors}, len(exchange) - len(survivors)
}

func volumeOf(q repository.Quote) decimal.Decimal {
	if !q.Volume.Valid || q.Volume.Decimal.IsNegative() {
		return decimal.Zero
	}
	return q.Volume.Decimal
}

// Aggregator runs the aggregation engine against the store.
type Aggregator struct {
	store    *repository.Store
	cache    *AggregateCache
	log      *zap.SugaredLogger
	now      func() time.Time
	strategy OutlierStrategy
}

// NewAggregator creates a new Aggregator. cache may be nil.
func NewAggregator(store *repository.Store, cache *AggregateCache, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		store:    store,
		cache:    cache,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
		strategy: OutlierIQR,
	}
}

// WithOutlierStrategy sets the fence used by AggregateCurrency.
func (a *Aggregator) WithOutlierStrategy(s OutlierStrategy) *Aggregator {
	a.strategy = s
	return a
}

// AggregateCurrency computes and persists one aggregate for the currency.
func (a *Aggregator) AggregateCurrency(ctx context.Context, code string) (*repository.Aggregate, error) {
	cur, err := a.store.Currencies.GetCurrencyByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load currency %s: %w", code, err)
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}

	now := a.now()
	quotes, err := a.store.Quotes.ValidQuotes(ctx, cur.ID, now)
	if err != nil {
		return nil, fmt.Errorf("load valid quotes for %s: %w", cur.Code, err)
	}

	comp, err := ComputeWith(quotes, a.strategy)
	if errors.Is(err, ErrNoData) {
		a.log.Warnw("No valid responses", "currency", cur.Code, "candidates", len(quotes))
		metrics.RecordAggregationSkipped(cur.Code)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	metrics.RecordOutlierRejections(cur.Code, comp.Rejected)

	rec := &repository.AggregationRecord{
		Aggregate: repository.Aggregate{
			CurrencyID:        cur.ID,
			Value:             decimal.NewFromFloat(comp.Value),
			StandardDeviation: comp.StdDev,
			Variance:          comp.Variance,
			CreatedAt:         now,
		},
		UsesWeighted: comp.UsesWeighted,
	}
	for _, q := range comp.Used {
		rec.UsedQuoteIDs = append(rec.UsedQuoteIDs, q.ID)
	}
	if comp.Weighted != nil {
		weighted, err := a.weightedQuote(ctx, cur, comp.Weighted, now)
		if err != nil {
			return nil, err
		}
		rec.Weighted = weighted
		for _, q := range comp.Weighted.Constituents {
			rec.ConstituentIDs = append(rec.ConstituentIDs, q.ID)
		}
	}

	agg, err := a.store.Aggregates.SaveAggregation(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("save aggregate for %s: %w", cur.Code, err)
	}
	metrics.RecordAggregate(cur.Code)
	a.cache.Set(ctx, cur.Code, agg)

	a.log.Infow("Aggregate saved",
		"currency", cur.Code,
		"price", agg.Value.StringFixed(8),
		"samples", agg.SampleCount,
		"std_dev", agg.StandardDeviation,
		"rejected", comp.Rejected,
	)
	return agg, nil
}

func (a *Aggregator) weightedQuote(ctx context.Context, cur *repository.Currency, fold *WeightedFold, now time.Time) (*repository.Quote, error) {
	src, err := a.store.Sources.GetOrCreateSource(ctx, repository.Source{
		Name:         WeightedSourceName,
		CacheSeconds: 0,
		Active:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve weighted source: %w", err)
	}
	return &repository.Quote{
		SourceID:   src.ID,
		CurrencyID: cur.ID,
		Value:      decimal.NewFromFloat(fold.Value),
		Volume:     decimal.NewNullDecimal(fold.Volume),
		ValidUntil: now,
		CreatedAt:  now,
	}, nil
}
