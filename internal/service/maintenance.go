package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"priceaggregator/internal/config"
	"priceaggregator/internal/provider"
	"priceaggregator/internal/repository"
)

// Maintenance seeds reference data from configuration and prunes history.
type Maintenance struct {
	store         *repository.Store
	log           *zap.SugaredLogger
	refreshMargin time.Duration
	now           func() time.Time
}

// NewMaintenance creates a new Maintenance.
func NewMaintenance(store *repository.Store, logger *zap.SugaredLogger, refreshMargin time.Duration) *Maintenance {
	return &Maintenance{
		store:         store,
		log:           logger,
		refreshMargin: refreshMargin,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Seed upserts configured currencies and the sources of enabled adapters.
func (m *Maintenance) Seed(ctx context.Context, cfg *config.Config) error {
	for _, c := range cfg.Currencies {
		code, err := NormalizeCode(c.Code)
		if err != nil {
			return fmt.Errorf("currency %q: %w", c.Code, err)
		}
		minProviders := c.MinProviders
		if minProviders <= 0 {
			minProviders = 1
		}
		if _, err := m.store.Currencies.UpsertCurrency(ctx, repository.Currency{
			Code:         code,
			Name:         strings.TrimSpace(c.Name),
			MinProviders: minProviders,
			MaxStdDev:    c.MaxStdDev,
		}); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(cfg.Sources))
	for k := range cfg.Sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sc := cfg.Sources[key]
		name := provider.SourceName(key)
		if name == "" {
			m.log.Warnw("Ignoring unknown source in config", "key", key)
			continue
		}
		cache := time.Duration(sc.CacheSeconds) * time.Second
		if sc.Enabled && cache <= m.refreshMargin {
			m.log.Warnw("Source cache lifetime does not exceed refresh margin; it will be polled every pass",
				"source", name, "cache_seconds", sc.CacheSeconds, "refresh_margin", m.refreshMargin)
		}
		if _, err := m.store.Sources.SaveSource(ctx, repository.Source{
			Name:             name,
			CacheSeconds:     sc.CacheSeconds,
			Active:           sc.Enabled,
			IsExchangeMarket: sc.ExchangeMarket,
		}); err != nil {
			return err
		}
	}
	m.log.Infow("Seeded reference data", "currencies", len(cfg.Currencies), "sources", len(keys))
	return nil
}

// Prune deletes quotes and failure records older than the given number of days.
func (m *Maintenance) Prune(ctx context.Context, days int) (quotes, failures int64, err error) {
	if days <= 0 {
		return 0, 0, fmt.Errorf("days must be positive, got %d", days)
	}
	cutoff := m.now().AddDate(0, 0, -days)
	if quotes, err = m.store.Quotes.PruneQuotesBefore(ctx, cutoff); err != nil {
		return 0, 0, err
	}
	if failures, err = m.store.Failures.PruneFailuresBefore(ctx, cutoff); err != nil {
		return quotes, 0, err
	}
	m.log.Infow("Pruned history", "cutoff", cutoff, "quotes", quotes, "failures", failures)
	return quotes, failures, nil
}
