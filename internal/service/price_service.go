// Package service implements the price aggregation pipeline and the queries served over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"priceaggregator/internal/repository"
)

// StaleAfter is the age past which an aggregate is flagged as stale.
const StaleAfter = 24 * time.Hour

// AggregateView is an aggregate with everything the API reports about it.
type AggregateView struct {
	Currency          string
	CurrencyName      string
	AggregationTime   time.Time
	Price             decimal.Decimal
	SampleCount       int
	StandardDeviation float64
	Variance          float64
	MovingAverages    map[string]float64
	UsedQuotes        []QuoteView
	Stale             bool
}

// QuoteView is a stored quote as reported by the API.
type QuoteView struct {
	Provider       string
	Currency       string
	USDPrice       decimal.Decimal
	MarketPrice    decimal.NullDecimal
	Volume         decimal.NullDecimal
	FetchTime      time.Time
	ValidUntil     time.Time
	MovingAverages map[string]float64
	Combined       []QuoteView
}

// MovementEntry is the price change over one look-back period.
type MovementEntry struct {
	Days      int
	Pct       decimal.Decimal
	PastPrice decimal.Decimal
	PastTime  time.Time
}

// MovementView is the latest aggregate and its movement over MovementDays.
type MovementView struct {
	Currency        string
	Price           decimal.Decimal
	AggregationTime time.Time
	Movements       []MovementEntry
}

// ProviderView describes a configured source.
type ProviderView struct {
	Name             string
	CacheSeconds     int
	Active           bool
	IsExchangeMarket bool
	Parent           string
	LastFailure      *repository.Failure
}

// PriceService answers read queries over aggregates and quotes.
type PriceService struct {
	store *repository.Store
	cache *AggregateCache
	log   *zap.SugaredLogger
	now   func() time.Time
}

// NewPriceService creates a new PriceService. cache may be nil.
func NewPriceService(store *repository.Store, cache *AggregateCache, logger *zap.SugaredLogger) *PriceService {
	return &PriceService{
		store: store,
		cache: cache,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ParseTimestamp accepts RFC 3339 or integer unix seconds.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	return t.UTC(), nil
}

// LatestUSDPrice returns the latest aggregate price for code, checking the cache first.
// It satisfies provider.PriceLookup.
func (s *PriceService) LatestUSDPrice(ctx context.Context, code string) (decimal.Decimal, bool, error) {
	if agg, ok := s.cache.Get(ctx, code); ok {
		return agg.Value, true, nil
	}
	cur, err := s.store.Currencies.GetCurrencyByCode(ctx, code)
	if err != nil || cur == nil {
		return decimal.Zero, false, err
	}
	agg, err := s.store.Aggregates.LatestAggregate(ctx, cur.ID)
	if err != nil || agg == nil {
		return decimal.Zero, false, err
	}
	s.cache.Set(ctx, cur.Code, agg)
	return agg.Value, true, nil
}

// LatestPrice returns the newest aggregate for code. detail adds the quotes it used.
func (s *PriceService) LatestPrice(ctx context.Context, code string, detail bool) (*AggregateView, error) {
	cur, err := s.currency(ctx, code)
	if err != nil {
		return nil, err
	}

	agg, ok := s.cache.Get(ctx, cur.Code)
	if !ok {
		agg, err = s.store.Aggregates.LatestAggregate(ctx, cur.ID)
		if err != nil {
			s.log.Errorw("DB error fetching latest aggregate", "currency", cur.Code, "error", err)
			return nil, ErrInternal
		}
		if agg == nil {
			return nil, ErrNotFound
		}
		s.cache.Set(ctx, cur.Code, agg)
	}
	return s.aggregateView(ctx, cur, agg, detail)
}

// PriceAt returns the aggregate closest to target.
func (s *PriceService) PriceAt(ctx context.Context, code string, target time.Time, detail bool) (*AggregateView, error) {
	cur, err := s.currency(ctx, code)
	if err != nil {
		return nil, err
	}
	agg, err := s.nearestAggregate(ctx, cur.ID, target)
	if err != nil {
		return nil, err
	}
	return s.aggregateView(ctx, cur, agg, detail)
}

// Movement reports the change of the latest aggregate against the aggregates
// nearest to each look-back period. Periods without history or with a zero past
// price are left out.
func (s *PriceService) Movement(ctx context.Context, code string) (*MovementView, error) {
	cur, err := s.currency(ctx, code)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.Aggregates.LatestAggregate(ctx, cur.ID)
	if err != nil {
		s.log.Errorw("DB error fetching latest aggregate", "currency", cur.Code, "error", err)
		return nil, ErrInternal
	}
	if latest == nil {
		return nil, ErrNotFound
	}

	view := &MovementView{Currency: cur.Code, Price: latest.Value, AggregationTime: latest.CreatedAt}
	now := s.now()
	for _, days := range MovementDays {
		past, err := s.nearestAggregate(ctx, cur.ID, now.AddDate(0, 0, -days))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pct, ok := MovementPct(latest.Value, past.Value)
		if !ok {
			continue
		}
		view.Movements = append(view.Movements, MovementEntry{
			Days:      days,
			Pct:       pct,
			PastPrice: past.Value,
			PastTime:  past.CreatedAt,
		})
	}
	return view, nil
}

// Currencies lists tracked currencies.
func (s *PriceService) Currencies(ctx context.Context) ([]repository.Currency, error) {
	out, err := s.store.Currencies.ListCurrencies(ctx)
	if err != nil {
		s.log.Errorw("DB error listing currencies", "error", err)
		return nil, ErrInternal
	}
	return out, nil
}

// Providers lists all sources with their most recent failure.
func (s *PriceService) Providers(ctx context.Context) ([]ProviderView, error) {
	sources, err := s.store.Sources.ListSources(ctx, false)
	if err != nil {
		s.log.Errorw("DB error listing sources", "error", err)
		return nil, ErrInternal
	}
	names := make(map[int64]string, len(sources))
	for _, src := range sources {
		names[src.ID] = src.Name
	}

	out := make([]ProviderView, 0, len(sources))
	for _, src := range sources {
		v := ProviderView{
			Name:             src.Name,
			CacheSeconds:     src.CacheSeconds,
			Active:           src.Active,
			IsExchangeMarket: src.IsExchangeMarket,
		}
		if src.ParentSourceID != nil {
			v.Parent = names[*src.ParentSourceID]
		}
		if v.LastFailure, err = s.store.Failures.LatestFailure(ctx, src.ID); err != nil {
			s.log.Errorw("DB error fetching failure", "source", src.Name, "error", err)
			return nil, ErrInternal
		}
		out = append(out, v)
	}
	return out, nil
}

// ProviderPrice returns the newest quote of a source for a currency.
func (s *PriceService) ProviderPrice(ctx context.Context, providerName, code string) (*QuoteView, error) {
	src, cur, err := s.sourceAndCurrency(ctx, providerName, code)
	if err != nil {
		return nil, err
	}
	q, err := s.store.Quotes.LatestQuote(ctx, src.ID, cur.ID)
	if err != nil {
		s.log.Errorw("DB error fetching latest quote", "source", src.Name, "currency", cur.Code, "error", err)
		return nil, ErrInternal
	}
	if q == nil {
		return nil, ErrNotFound
	}
	return s.quoteView(ctx, cur, q)
}

// ProviderPriceAt returns the quote of a source for a currency closest to target.
func (s *PriceService) ProviderPriceAt(ctx context.Context, providerName, code string, target time.Time) (*QuoteView, error) {
	src, cur, err := s.sourceAndCurrency(ctx, providerName, code)
	if err != nil {
		return nil, err
	}
	before, after, err := s.store.Quotes.QuoteNeighbors(ctx, src.ID, cur.ID, target)
	if err != nil {
		s.log.Errorw("DB error fetching quote neighbours", "source", src.Name, "currency", cur.Code, "error", err)
		return nil, ErrInternal
	}
	q, ok := Nearest(before, after, func(q *repository.Quote) time.Time { return q.CreatedAt }, target)
	if !ok {
		return nil, ErrNotFound
	}
	return s.quoteView(ctx, cur, q)
}

// Arbitrage returns the most recent opportunities recorded for code.
func (s *PriceService) Arbitrage(ctx context.Context, code string, limit int) ([]repository.ArbitrageOpportunity, error) {
	cur, err := s.currency(ctx, code)
	if err != nil {
		return nil, err
	}
	out, err := s.store.Arbitrage.RecentOpportunities(ctx, cur.ID, limit)
	if err != nil {
		s.log.Errorw("DB error fetching arbitrage", "currency", cur.Code, "error", err)
		return nil, ErrInternal
	}
	return out, nil
}

func (s *PriceService) currency(ctx context.Context, code string) (*repository.Currency, error) {
	norm, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	cur, err := s.store.Currencies.GetCurrencyByCode(ctx, norm)
	if err != nil {
		s.log.Errorw("DB error fetching currency", "currency", norm, "error", err)
		return nil, ErrInternal
	}
	if cur == nil {
		return nil, ErrUnknownCurrency
	}
	return cur, nil
}

func (s *PriceService) sourceAndCurrency(ctx context.Context, providerName, code string) (*repository.Source, *repository.Currency, error) {
	cur, err := s.currency(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	src, err := s.store.Sources.GetSourceByName(ctx, strings.TrimSpace(providerName))
	if err != nil {
		s.log.Errorw("DB error fetching source", "source", providerName, "error", err)
		return nil, nil, ErrInternal
	}
	if src == nil {
		return nil, nil, ErrUnknownSource
	}
	return src, cur, nil
}

func (s *PriceService) nearestAggregate(ctx context.Context, currencyID int64, target time.Time) (*repository.Aggregate, error) {
	before, after, err := s.store.Aggregates.AggregateNeighbors(ctx, currencyID, target)
	if err != nil {
		s.log.Errorw("DB error fetching aggregate neighbours", "currency_id", currencyID, "error", err)
		return nil, ErrInternal
	}
	agg, ok := Nearest(before, after, func(a *repository.Aggregate) time.Time { return a.CreatedAt }, target)
	if !ok {
		return nil, ErrNotFound
	}
	return agg, nil
}

func (s *PriceService) aggregateView(ctx context.Context, cur *repository.Currency, agg *repository.Aggregate, detail bool) (*AggregateView, error) {
	mas, err := MovingAverages(ctx, func(ctx context.Context, from, to time.Time) ([]decimal.Decimal, error) {
		return s.store.Aggregates.AggregateValuesBetween(ctx, cur.ID, from, to)
	}, agg.CreatedAt)
	if err != nil {
		s.log.Errorw("DB error computing moving averages", "currency", cur.Code, "error", err)
		return nil, ErrInternal
	}

	v := &AggregateView{
		Currency:          cur.Code,
		CurrencyName:      cur.Name,
		AggregationTime:   agg.CreatedAt,
		Price:             agg.Value,
		SampleCount:       agg.SampleCount,
		StandardDeviation: agg.StandardDeviation,
		Variance:          agg.Variance,
		MovingAverages:    mas,
		Stale:             s.now().Sub(agg.CreatedAt) > StaleAfter,
	}
	if !detail {
		return v, nil
	}

	used, err := s.store.Aggregates.AggregateQuotes(ctx, agg.ID)
	if err != nil {
		s.log.Errorw("DB error fetching aggregate quotes", "aggregate_id", agg.ID, "error", err)
		return nil, ErrInternal
	}
	for i := range used {
		qv := newQuoteView(cur, &used[i])
		children, err := s.store.Quotes.ChildQuotes(ctx, used[i].ID)
		if err != nil {
			s.log.Errorw("DB error fetching combined quotes", "quote_id", used[i].ID, "error", err)
			return nil, ErrInternal
		}
		for j := range children {
			qv.Combined = append(qv.Combined, newQuoteView(cur, &children[j]))
		}
		v.UsedQuotes = append(v.UsedQuotes, qv)
	}
	return v, nil
}

func (s *PriceService) quoteView(ctx context.Context, cur *repository.Currency, q *repository.Quote) (*QuoteView, error) {
	qv := newQuoteView(cur, q)
	mas, err := MovingAverages(ctx, func(ctx context.Context, from, to time.Time) ([]decimal.Decimal, error) {
		return s.store.Quotes.QuoteValuesBetween(ctx, q.SourceID, cur.ID, from, to)
	}, q.CreatedAt)
	if err != nil {
		s.log.Errorw("DB error computing moving averages", "currency", cur.Code, "error", err)
		return nil, ErrInternal
	}
	qv.MovingAverages = mas

	children, err := s.store.Quotes.ChildQuotes(ctx, q.ID)
	if err != nil {
		s.log.Errorw("DB error fetching combined quotes", "quote_id", q.ID, "error", err)
		return nil, ErrInternal
	}
	for i := range children {
		qv.Combined = append(qv.Combined, newQuoteView(cur, &children[i]))
	}
	return &qv, nil
}

func newQuoteView(cur *repository.Currency, q *repository.Quote) QuoteView {
	return QuoteView{
		Provider:    q.SourceName,
		Currency:    cur.Code,
		USDPrice:    q.Value,
		MarketPrice: q.MarketValue,
		Volume:      q.Volume,
		FetchTime:   q.CreatedAt,
		ValidUntil:  q.ValidUntil,
	}
}
