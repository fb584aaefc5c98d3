package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"priceaggregator/internal/metrics"
	"priceaggregator/internal/provider"
	"priceaggregator/internal/repository"
)

// IngestResult summarizes one source unit of an ingestion pass.
type IngestResult struct {
	Source  string
	Skipped bool // not due, inactive
	Failed  bool // adapter error or timeout, recorded as a failure row
	Saved   int
	Dropped int // blacklisted, malformed or unknown currency
}

// Ingestor polls one source at a time and persists what it reports.
type Ingestor struct {
	store         *repository.Store
	registry      *provider.Registry
	log           *zap.SugaredLogger
	fetchTimeout  time.Duration
	refreshMargin time.Duration
	now           func() time.Time
}

// NewIngestor creates a new Ingestor.
func NewIngestor(store *repository.Store, registry *provider.Registry, logger *zap.SugaredLogger, fetchTimeout, refreshMargin time.Duration) *Ingestor {
	return &Ingestor{
		store:         store,
		registry:      registry,
		log:           logger,
		fetchTimeout:  fetchTimeout,
		refreshMargin: refreshMargin,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// IngestSource runs the cache gate for the named source and, when due or forced,
// calls its adapter and stores the returned quotes. Adapter failures are recorded
// and reported in the result; only storage problems are returned as errors.
func (i *Ingestor) IngestSource(ctx context.Context, name string, force bool, book *provider.PriceBook) (*IngestResult, error) {
	src, err := i.store.Sources.GetSourceByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", name, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	res := &IngestResult{Source: src.Name}
	if !src.Active {
		res.Skipped = true
		return res, nil
	}
	adapter, ok := i.registry.Get(src.Name)
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", ErrUnknownSource, src.Name)
	}

	now := i.now()
	if !force {
		last, err := i.store.Quotes.LatestQuoteTime(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("load last quote time for %s: %w", src.Name, err)
		}
		if !IsDue(last, src.CacheLifetime(), i.refreshMargin, now) {
			i.log.Debugw("Source not due", "source", src.Name, "last_quote", last)
			res.Skipped = true
			return res, nil
		}
	}

	currencies, err := i.store.Currencies.ListCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}
	byCode := make(map[string]repository.Currency, len(currencies))
	codes := make([]string, 0, len(currencies))
	for _, c := range currencies {
		code := strings.ToUpper(c.Code)
		byCode[code] = c
		codes = append(codes, code)
	}

	candidates, fetchErr := i.fetch(ctx, adapter, provider.FetchRequest{Currencies: codes, Prices: book})
	if fetchErr != nil {
		res.Failed = true
		i.log.Warnw("Source fetch failed", "source", src.Name, "error", fetchErr)
		failure := &repository.Failure{SourceID: src.ID, Message: fetchErr.Error(), CreatedAt: now}
		if err := i.store.Failures.RecordFailure(ctx, failure); err != nil {
			return res, fmt.Errorf("record failure for %s: %w", src.Name, err)
		}
		return res, nil
	}
	if len(candidates) == 0 {
		i.log.Infow("No data this round", "source", src.Name)
		return res, nil
	}

	markets := make(map[string]*repository.Source)
	var errs []error
	for _, c := range candidates {
		cur, ok := byCode[strings.ToUpper(c.CurrencyCode)]
		if !ok {
			res.Dropped++
			continue
		}
		if !c.Price.IsPositive() {
			i.log.Debugw("Dropping non-positive price", "source", src.Name, "currency", cur.Code, "price", c.Price.String())
			res.Dropped++
			continue
		}

		effective := src
		if c.Market != "" {
			effective, err = i.marketSource(ctx, markets, src, c.Market)
			if err != nil {
				errs = append(errs, err)
				continue
			}
		}

		blocked, err := i.blacklisted(ctx, cur.ID, src.ID, effective.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if blocked {
			i.log.Debugw("Skipping blacklisted source", "source", effective.Name, "currency", cur.Code)
			res.Dropped++
			continue
		}

		q := &repository.Quote{
			SourceID:    effective.ID,
			CurrencyID:  cur.ID,
			Value:       c.Price,
			MarketValue: c.MarketPrice,
			Volume:      c.Volume,
			ValidUntil:  now.Add(effective.CacheLifetime()),
			CreatedAt:   now,
		}
		if err := i.store.Quotes.InsertQuote(ctx, q); err != nil {
			errs = append(errs, fmt.Errorf("save quote %s/%s: %w", effective.Name, cur.Code, err))
			continue
		}
		metrics.RecordQuoteSaved(src.Name)
		res.Saved++
	}

	i.log.Infow("Source ingested", "source", src.Name, "saved", res.Saved, "dropped", res.Dropped)
	return res, errors.Join(errs...)
}

func (i *Ingestor) fetch(ctx context.Context, adapter provider.Adapter, req provider.FetchRequest) ([]provider.Candidate, error) {
	fctx, cancel := context.WithTimeout(ctx, i.fetchTimeout)
	defer cancel()

	start := time.Now()
	candidates, err := adapter.Fetch(fctx, req)
	if err == nil && fctx.Err() != nil {
		err = fctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", i.fetchTimeout, err)
	}
	metrics.RecordSourceFetch(adapter.Name(), time.Since(start), err != nil)
	return candidates, err
}

// marketSource resolves the sub-market source for a trading pair, creating it on first sight.
func (i *Ingestor) marketSource(ctx context.Context, memo map[string]*repository.Source, parent *repository.Source, name string) (*repository.Source, error) {
	key := strings.ToLower(name)
	if s, ok := memo[key]; ok {
		return s, nil
	}
	parentID := parent.ID
	s, err := i.store.Sources.GetOrCreateSource(ctx, repository.Source{
		Name:             name,
		CacheSeconds:     parent.CacheSeconds,
		Active:           true,
		IsExchangeMarket: parent.IsExchangeMarket,
		ParentSourceID:   &parentID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve market source %s: %w", name, err)
	}
	memo[key] = s
	return s, nil
}

// blacklisted checks the effective source and, for sub-markets, the adapter source too.
func (i *Ingestor) blacklisted(ctx context.Context, currencyID, sourceID, effectiveID int64) (bool, error) {
	blocked, err := i.store.Failures.IsBlacklisted(ctx, currencyID, effectiveID)
	if err != nil || blocked || effectiveID == sourceID {
		return blocked, err
	}
	return i.store.Failures.IsBlacklisted(ctx, currencyID, sourceID)
}
