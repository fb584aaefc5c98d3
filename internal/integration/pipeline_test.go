//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"priceaggregator/internal/provider"
	"priceaggregator/internal/repository"
	"priceaggregator/internal/service"
	"priceaggregator/internal/testkit"
	"priceaggregator/internal/worker"
)

type stubAdapter struct {
	name       string
	candidates []provider.Candidate
	calls      int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(context.Context, provider.FetchRequest) ([]provider.Candidate, error) {
	s.calls++
	return s.candidates, nil
}

func price(code, value string) provider.Candidate {
	return provider.Candidate{CurrencyCode: code, Price: decimal.RequireFromString(value)}
}

func market(name, value, volume string) provider.Candidate {
	c := price("BTC", value)
	c.Market = name
	c.Volume = decimal.NewNullDecimal(decimal.RequireFromString(volume))
	return c
}

func newPipeline(store *repository.Store, adapters ...provider.Adapter) (*service.Pipeline, *service.PriceService) {
	log := zap.NewNop().Sugar()
	cache := service.NewAggregateCache(testRDB, time.Hour, log)
	registry := provider.NewRegistry(adapters...)
	prices := service.NewPriceService(store, cache, log)
	return service.NewPipeline(service.PipelineDeps{
		Store:       store,
		Registry:    registry,
		Ingestor:    service.NewIngestor(store, registry, log, 5*time.Second, time.Minute),
		Aggregator:  service.NewAggregator(store, cache, log),
		Arbitrage:   service.NewArbitrageDetector(store, log, 1, 10),
		Prices:      prices,
		Lock:        func(ctx context.Context) (func(), bool, error) { return repository.TryAdvisoryLock(ctx, testDB, 7_300_002) },
		Logger:      log,
		Concurrency: 2,
	}), prices
}

func TestPipeline_RunPassEndToEnd(t *testing.T) {
	resetTestData(t)
	ctx := testContext(t)
	store := repository.NewPostgresStore(testDB)
	mustCurrency(t, store, "BTC")
	mustSource(t, store, "Frankfurter", 300, false)
	mustSource(t, store, "Bitstamp", 300, false)
	mustSource(t, store, "Bittrex", 300, true)

	frankfurter := &stubAdapter{name: "Frankfurter", candidates: []provider.Candidate{price("BTC", "100")}}
	bitstamp := &stubAdapter{name: "Bitstamp", candidates: []provider.Candidate{price("BTC", "102")}}
	bittrex := &stubAdapter{name: "Bittrex", candidates: []provider.Candidate{
		market("Bittrex_BTC_USDT_market", "101", "10"),
		market("Bittrex_BTC_EUR_market", "103", "30"),
	}}
	pipeline, prices := newPipeline(store, frankfurter, bitstamp, bittrex)

	report, err := pipeline.RunPass(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"BTC"}, report.Aggregated)
	assert.Equal(t, 1, report.Opportunities)

	view, err := prices.LatestPrice(ctx, "btc", true)
	require.NoError(t, err)
	assert.InDelta(t, 101.5, view.Price.InexactFloat64(), 1e-9)
	assert.Equal(t, 3, view.SampleCount)
	require.Len(t, view.UsedQuotes, 3)

	var weighted *service.QuoteView
	for i := range view.UsedQuotes {
		if view.UsedQuotes[i].Provider == service.WeightedSourceName {
			weighted = &view.UsedQuotes[i]
		}
	}
	require.NotNil(t, weighted)
	assert.InDelta(t, 102.5, weighted.USDPrice.InexactFloat64(), 1e-9)
	assert.Len(t, weighted.Combined, 2)

	exists, err := testRDB.Exists(ctx, "latest_aggregate:{BTC}").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	second, err := pipeline.RunPass(ctx, false)
	require.NoError(t, err)
	for _, r := range second.Ingested {
		assert.True(t, r.Skipped, r.Source)
	}
	assert.Equal(t, 1, frankfurter.calls)
	assert.Equal(t, 1, bittrex.calls)
}

func TestPipeline_RunPassRejectsConcurrentPass(t *testing.T) {
	resetTestData(t)
	ctx := testContext(t)
	store := repository.NewPostgresStore(testDB)
	pipeline, _ := newPipeline(store)

	release, acquired, err := repository.TryAdvisoryLock(ctx, testDB, 7_300_002)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	_, err = pipeline.RunPass(ctx, false)
	assert.ErrorIs(t, err, service.ErrPassInProgress)
}

func TestAsynqEnqueuer_DeduplicatesWithinWindow(t *testing.T) {
	resetTestData(t)
	ctx := testContext(t)
	opt := asynq.RedisClientOpt{Addr: testkit.Global().RedisAddr()}
	client := asynq.NewClient(opt)
	defer client.Close()
	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	enq := worker.NewAsynqEnqueuer(client, 0, time.Minute, time.Minute)
	payload := worker.SourcePayload{Source: "Bitstamp"}
	require.NoError(t, enq.Enqueue(ctx, worker.TypeIngestSource, payload))
	require.NoError(t, enq.Enqueue(ctx, worker.TypeIngestSource, payload))
	require.NoError(t, enq.Enqueue(ctx, worker.TypeIngestSource, worker.SourcePayload{Source: "Bittrex"}))

	pending, err := inspector.ListPendingTasks("default")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
