package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"priceaggregator/internal/repository"
)

const cacheKeyPrefixLatest = "latest_aggregate:"

func latestCacheKey(code string) string {
	return cacheKeyPrefixLatest + "{" + strings.ToUpper(code) + "}"
}

// AggregateCache keeps the latest aggregate per currency in Redis. A nil cache
// or nil client always misses.
type AggregateCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.SugaredLogger
}

// NewAggregateCache creates a new AggregateCache.
func NewAggregateCache(rdb *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *AggregateCache {
	return &AggregateCache{rdb: rdb, ttl: ttl, log: logger}
}

// Get returns the cached latest aggregate for code.
func (c *AggregateCache) Get(ctx context.Context, code string) (*repository.Aggregate, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	fields := []string{"id", "currency_id", "value", "sample_count", "std_dev", "variance", "created_at"}
	vals, err := c.rdb.HMGet(ctx, latestCacheKey(code), fields...).Result()
	if err != nil || len(vals) != len(fields) {
		return nil, false
	}
	strs := make([]string, len(vals))
	for i, v := range vals {
		s, ok := asString(v)
		if !ok {
			return nil, false
		}
		strs[i] = s
	}

	var a repository.Aggregate
	if a.ID, err = strconv.ParseInt(strs[0], 10, 64); err != nil {
		return nil, false
	}
	if a.CurrencyID, err = strconv.ParseInt(strs[1], 10, 64); err != nil {
		return nil, false
	}
	if a.Value, err = decimal.NewFromString(strs[2]); err != nil {
		return nil, false
	}
	if a.SampleCount, err = strconv.Atoi(strs[3]); err != nil {
		return nil, false
	}
	if a.StandardDeviation, err = strconv.ParseFloat(strs[4], 64); err != nil {
		return nil, false
	}
	if a.Variance, err = strconv.ParseFloat(strs[5], 64); err != nil {
		return nil, false
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, strs[6]); err != nil {
		return nil, false
	}
	return &a, true
}

// setLatestScript writes the hash unless it already holds a higher aggregate id.
// ARGV: id, currency_id, value, sample_count, std_dev, variance, created_at, ttl ms.
var setLatestScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'id')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'currency_id', ARGV[2], 'value', ARGV[3], 'sample_count', ARGV[4],
	'std_dev', ARGV[5], 'variance', ARGV[6], 'created_at', ARGV[7])
if tonumber(ARGV[8]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[8])
end
return 1
`)

// Set stores agg as the latest aggregate for code unless the cache already holds
// a newer one. Errors are logged, not returned.
func (c *AggregateCache) Set(ctx context.Context, code string, agg *repository.Aggregate) {
	if c == nil || c.rdb == nil || agg == nil {
		return
	}

	key := latestCacheKey(code)
	err := setLatestScript.Run(ctx, c.rdb, []string{key},
		agg.ID,
		agg.CurrencyID,
		agg.Value.String(),
		agg.SampleCount,
		strconv.FormatFloat(agg.StandardDeviation, 'g', -1, 64),
		strconv.FormatFloat(agg.Variance, 'g', -1, 64),
		agg.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.ttl.Milliseconds(),
	).Err()
	if err != nil && c.log != nil {
		c.log.Warnw("Failed to update cache", "key", key, "error", err)
	}
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	default:
		return "", false
	}
}
