package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"priceaggregator/internal/repository"
)

func newTestCache(t *testing.T) (*AggregateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAggregateCache(rdb, time.Minute, zap.NewNop().Sugar()), mr
}

func TestAggregateCache(t *testing.T) {
	ctx := context.Background()
	agg := func(id int64, value string) *repository.Aggregate {
		return &repository.Aggregate{
			ID:                id,
			CurrencyID:        1,
			Value:             d(value),
			SampleCount:       3,
			StandardDeviation: 1.5,
			Variance:          2.25,
			CreatedAt:         t0.Add(time.Duration(id) * time.Minute),
		}
	}

	t.Run("round trip with ttl", func(t *testing.T) {
		cache, mr := newTestCache(t)
		cache.Set(ctx, "btc", agg(5, "42000.5"))

		got, ok := cache.Get(ctx, "BTC")
		require.True(t, ok)
		assert.Equal(t, int64(5), got.ID)
		assert.True(t, d("42000.5").Equal(got.Value))
		assert.Equal(t, 3, got.SampleCount)
		assert.Equal(t, 2.25, got.Variance)
		assert.Equal(t, t0.Add(5*time.Minute), got.CreatedAt)
		assert.Equal(t, time.Minute, mr.TTL(latestCacheKey("BTC")))
	})

	t.Run("older aggregate does not replace a newer one", func(t *testing.T) {
		cache, _ := newTestCache(t)
		cache.Set(ctx, "BTC", agg(5, "200"))
		cache.Set(ctx, "BTC", agg(3, "100"))

		got, ok := cache.Get(ctx, "BTC")
		require.True(t, ok)
		assert.Equal(t, int64(5), got.ID)
		assert.True(t, d("200").Equal(got.Value))

		cache.Set(ctx, "BTC", agg(6, "300"))
		got, ok = cache.Get(ctx, "BTC")
		require.True(t, ok)
		assert.Equal(t, int64(6), got.ID)
	})

	t.Run("expired entry is rewritten", func(t *testing.T) {
		cache, mr := newTestCache(t)
		cache.Set(ctx, "BTC", agg(5, "200"))
		mr.FastForward(2 * time.Minute)

		_, ok := cache.Get(ctx, "BTC")
		assert.False(t, ok)

		cache.Set(ctx, "BTC", agg(3, "100"))
		got, ok := cache.Get(ctx, "BTC")
		require.True(t, ok)
		assert.Equal(t, int64(3), got.ID)
	})

	t.Run("nil cache misses", func(t *testing.T) {
		var cache *AggregateCache
		cache.Set(ctx, "BTC", agg(1, "1"))
		_, ok := cache.Get(ctx, "BTC")
		assert.False(t, ok)
	})
}

func TestPriceService_ReadThroughKeepsNewerCacheEntry(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	btc := m.addCurrency("BTC")
	older := m.addAggregate(btc, "100", t0)

	cache, _ := newTestCache(t)
	svc := newTestPriceService(m, cache, t0)

	// the aggregator has cached an aggregate the read path has not seen yet
	newer := repository.Aggregate{ID: older.ID + 10, CurrencyID: btc.ID, Value: d("120"), SampleCount: 1, CreatedAt: t0.Add(time.Minute)}
	cache.Set(ctx, "BTC", &newer)
	cache.Set(ctx, "BTC", &older)

	price, ok, err := svc.LatestUSDPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d("120").Equal(price))
}
