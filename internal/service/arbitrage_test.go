package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"priceaggregator/internal/repository"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSpreadPct(t *testing.T) {
	pct, ok := SpreadPct(d("110"), d("90"))
	require.True(t, ok)
	assert.True(t, d("20").Equal(pct), pct.String())

	pct, ok = SpreadPct(d("90"), d("110"))
	require.True(t, ok)
	assert.True(t, d("20").Equal(pct))

	_, ok = SpreadPct(d("0"), d("0"))
	assert.False(t, ok)
}

func TestDetectSpreads(t *testing.T) {
	quotes := []repository.Quote{
		exchangeQuote(1, 1, "110", "1"),
		exchangeQuote(2, 2, "90", "1"),
		exchangeQuote(3, 3, "100", "1"),
	}

	t.Run("threshold is strict", func(t *testing.T) {
		assert.Empty(t, DetectSpreads(quotes, d("20")))
	})

	t.Run("orders low and high", func(t *testing.T) {
		got := DetectSpreads(quotes, d("19.99"))
		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].Low.ID)
		assert.Equal(t, int64(1), got[0].High.ID)
	})

	t.Run("every pair is checked", func(t *testing.T) {
		assert.Len(t, DetectSpreads(quotes, d("5")), 3)
	})

	t.Run("fewer than two quotes", func(t *testing.T) {
		assert.Empty(t, DetectSpreads(quotes[:1], d("0")))
		assert.Empty(t, DetectSpreads(nil, d("0")))
	})
}

func TestArbitrageDetector_DetectCurrency(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	btc := m.addCurrency("BTC")
	plain := m.addSource("Frankfurter", 300, false)
	ex1 := m.addSource("Bittrex_BTC_USD_market", 300, true)
	ex2 := m.addSource("Bittrex_BTC_EUR_market", 300, true)
	ex3 := m.addSource("Bitstamp_BTC_USD_market", 300, true)

	m.addQuote(plain, btc, "50", "", t0, time.Minute)
	m.addQuote(ex1, btc, "80", "1", t0.Add(-time.Hour), time.Minute)
	high := m.addQuote(ex2, btc, "110", "1", t0.Add(-2*time.Minute), time.Minute)
	low := m.addQuote(ex3, btc, "90", "1", t0.Add(-time.Minute), time.Minute)

	det := NewArbitrageDetector(m.store(), zap.NewNop().Sugar(), 10, 2)
	det.now = func() time.Time { return t0 }

	opps, err := det.DetectCurrency(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, opps, 1)
	o := opps[0]
	assert.Equal(t, low.ID, o.LowQuoteID)
	assert.Equal(t, high.ID, o.HighQuoteID)
	assert.True(t, d("20").Equal(o.SpreadPct))
	assert.Equal(t, t0, o.CreatedAt)
	assert.Len(t, m.arbs, 1)

	_, err = det.DetectCurrency(ctx, "DOGE")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
