package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"priceaggregator/internal/config"
	"priceaggregator/internal/repository"
)

func TestMaintenance_Seed(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	mt := NewMaintenance(m.store(), zap.NewNop().Sugar(), time.Minute)

	cfg := &config.Config{
		Currencies: []config.CurrencyConfig{
			{Code: "btc", Name: " Bitcoin "},
			{Code: "EUR", Name: "Euro", MinProviders: 2, MaxStdDev: 0.5},
		},
		Sources: map[string]config.SourceConfig{
			"bitstamp":    {Enabled: true, CacheSeconds: 60},
			"bittrex":     {Enabled: false, CacheSeconds: 300, ExchangeMarket: true},
			"made_up_api": {Enabled: true, CacheSeconds: 300},
		},
	}
	require.NoError(t, mt.Seed(ctx, cfg))
	require.NoError(t, mt.Seed(ctx, cfg), "seeding twice is idempotent")

	currencies, _ := m.ListCurrencies(ctx)
	require.Len(t, currencies, 2)
	assert.Equal(t, "BTC", currencies[0].Code)
	assert.Equal(t, "Bitcoin", currencies[0].Name)
	assert.Equal(t, 1, currencies[0].MinProviders)
	assert.Equal(t, 2, currencies[1].MinProviders)

	sources, _ := m.ListSources(ctx, false)
	require.Len(t, sources, 2)
	assert.Equal(t, "Bitstamp", sources[0].Name)
	assert.True(t, sources[0].Active)
	assert.Equal(t, "Bittrex", sources[1].Name)
	assert.False(t, sources[1].Active)
	assert.True(t, sources[1].IsExchangeMarket)

	m.sourceByID(sources[0].ID).Active = false
	cfg.Sources["bitstamp"] = config.SourceConfig{Enabled: true, CacheSeconds: 120}
	require.NoError(t, mt.Seed(ctx, cfg))
	reseeded, _ := m.GetSourceByName(ctx, "Bitstamp")
	require.NotNil(t, reseeded)
	assert.False(t, reseeded.Active, "re-seeding keeps an operator's deactivation")
	assert.Equal(t, 120, reseeded.CacheSeconds)

	bad := &config.Config{Currencies: []config.CurrencyConfig{{Code: "?"}}}
	assert.ErrorIs(t, mt.Seed(ctx, bad), ErrInvalidCode)
}

func TestMaintenance_Prune(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	btc := m.addCurrency("BTC")
	src := m.addSource("Bitstamp", 300, false)
	m.addQuote(src, btc, "1", "", t0.AddDate(0, 0, -40), time.Minute)
	m.addQuote(src, btc, "2", "", t0.AddDate(0, 0, -1), time.Minute)
	require.NoError(t, m.RecordFailure(ctx, &repository.Failure{SourceID: src.ID, Message: "x", CreatedAt: t0.AddDate(0, 0, -31)}))

	mt := NewMaintenance(m.store(), zap.NewNop().Sugar(), time.Minute)
	mt.now = func() time.Time { return t0 }

	quotes, failures, err := mt.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), quotes)
	assert.Equal(t, int64(1), failures)
	assert.Len(t, m.quotes, 1)

	_, _, err = mt.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestMaintenance_PruneKeepsReferencedQuotes(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	btc := m.addCurrency("BTC")
	plain := m.addSource("Bitstamp", 300, false)
	market := m.addSource("Bittrex_BTC_USD_market", 300, true)
	old := t0.AddDate(0, 0, -40)

	used := m.addQuote(plain, btc, "100", "", old, time.Minute)
	constituent := m.addQuote(market, btc, "101", "1", old, time.Minute)
	low := m.addQuote(market, btc, "90", "1", old, time.Minute)
	high := m.addQuote(plain, btc, "110", "", old, time.Minute)
	m.addQuote(plain, btc, "1", "", old, time.Minute)

	agg, err := m.SaveAggregation(ctx, &repository.AggregationRecord{
		Aggregate:      repository.Aggregate{CurrencyID: btc.ID, Value: d("100.5"), CreatedAt: old},
		UsedQuoteIDs:   []int64{used.ID},
		Weighted:       &repository.Quote{SourceID: market.ID, CurrencyID: btc.ID, Value: d("101"), CreatedAt: old, ValidUntil: old},
		ConstituentIDs: []int64{constituent.ID},
		UsesWeighted:   true,
	})
	require.NoError(t, err)
	require.NoError(t, m.InsertOpportunity(ctx, &repository.ArbitrageOpportunity{CurrencyID: btc.ID, LowQuoteID: low.ID, HighQuoteID: high.ID, CreatedAt: old}))

	mt := NewMaintenance(m.store(), zap.NewNop().Sugar(), time.Minute)
	mt.now = func() time.Time { return t0 }

	quotes, _, err := mt.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), quotes)
	assert.Len(t, m.quotes, 5)
	for _, id := range m.aggQuotes[agg.ID] {
		assert.NotNil(t, m.quoteByID(id))
	}
	assert.Len(t, m.aggQuotes[agg.ID], agg.SampleCount)
	assert.NotNil(t, m.quoteByID(constituent.ID))
}
