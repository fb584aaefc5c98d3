package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a tracked asset, identified case-insensitively by Code.
type Currency struct {
	ID           int64
	Code         string
	Name         string
	MinProviders int
	MaxStdDev    float64
	CreatedAt    time.Time
}

// Source is a quote provider. Sub-market sources discovered at ingestion time
// carry the adapter source as their parent.
type Source struct {
	ID               int64
	Name             string
	CacheSeconds     int
	Active           bool
	IsExchangeMarket bool
	ParentSourceID   *int64
	CreatedAt        time.Time
}

// CacheLifetime returns the source cache lifetime as a duration.
func (s *Source) CacheLifetime() time.Duration {
	return time.Duration(s.CacheSeconds) * time.Second
}

// Quote is one observed USD price from one source at one moment.
// SourceName and IsExchangeMarket are filled on reads that join sources.
type Quote struct {
	ID               int64
	SourceID         int64
	CurrencyID       int64
	Value            decimal.Decimal
	MarketValue      decimal.NullDecimal
	Volume           decimal.NullDecimal
	ParentQuoteID    *int64
	ValidUntil       time.Time
	CreatedAt        time.Time
	SourceName       string
	IsExchangeMarket bool
}

// Aggregate is the robust per-currency statistic produced by one aggregation pass.
type Aggregate struct {
	ID                int64
	CurrencyID        int64
	Value             decimal.Decimal
	SampleCount       int
	StandardDeviation float64
	Variance          float64
	CreatedAt         time.Time
}

// AggregationRecord is everything one aggregation pass persists atomically.
// Weighted is nil when no exchange-market quotes were folded this pass.
type AggregationRecord struct {
	Weighted       *Quote
	ConstituentIDs []int64
	Aggregate      Aggregate
	UsedQuoteIDs   []int64
	UsesWeighted   bool
}

// Failure is an append-only record of a failed source fetch.
type Failure struct {
	ID        int64
	SourceID  int64
	Message   string
	CreatedAt time.Time
}

// ArbitrageOpportunity pairs the lower and higher exchange quotes of a spread.
type ArbitrageOpportunity struct {
	ID          int64
	CurrencyID  int64
	LowQuoteID  int64
	HighQuoteID int64
	SpreadPct   decimal.Decimal
	CreatedAt   time.Time

	// filled on reads
	LowSource  string
	LowValue   decimal.Decimal
	HighSource string
	HighValue  decimal.Decimal
}
