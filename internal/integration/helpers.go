//go:build integration

package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"priceaggregator/internal/repository"
)

var (
	testDB  *sql.DB
	testRDB *redis.Client
)

const truncateAll = `TRUNCATE TABLE arbitrage_opportunities, blacklist, source_failures,
    aggregate_quotes, aggregates, quotes, sources, currencies RESTART IDENTITY CASCADE`

// resetTestData empties every table and flushes the current Redis database.
func resetTestData(t *testing.T) {
	t.Helper()

	if _, err := testDB.ExecContext(context.Background(), truncateAll); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	if err := testRDB.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// testContext returns a context with a 30-second deadline tied to the test's cleanup.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustCurrency(t *testing.T, store *repository.Store, code string) *repository.Currency {
	t.Helper()
	c, err := store.Currencies.UpsertCurrency(testContext(t), repository.Currency{Code: code, Name: code, MinProviders: 1})
	require.NoError(t, err)
	return c
}

func mustSource(t *testing.T, store *repository.Store, name string, cacheSeconds int, exchange bool) *repository.Source {
	t.Helper()
	s, err := store.Sources.SaveSource(testContext(t), repository.Source{
		Name: name, CacheSeconds: cacheSeconds, Active: true, IsExchangeMarket: exchange,
	})
	require.NoError(t, err)
	return s
}

func mustQuote(t *testing.T, store *repository.Store, src *repository.Source, cur *repository.Currency, value string, at time.Time) *repository.Quote {
	t.Helper()
	q := &repository.Quote{
		SourceID:   src.ID,
		CurrencyID: cur.ID,
		Value:      decimal.RequireFromString(value),
		CreatedAt:  at,
		ValidUntil: at.Add(src.CacheLifetime()),
	}
	require.NoError(t, store.Quotes.InsertQuote(testContext(t), q))
	return q
}
