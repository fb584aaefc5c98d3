package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"priceaggregator/internal/metrics"
	"priceaggregator/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// Spread is a pair of exchange quotes whose relative difference crossed the threshold.
type Spread struct {
	Low  repository.Quote
	High repository.Quote
	Pct  decimal.Decimal
}

// SpreadPct returns 100*(high-low)/((high+low)/2). ok is false when the midpoint is not positive.
func SpreadPct(a, b decimal.Decimal) (pct decimal.Decimal, ok bool) {
	low, high := a, b
	if low.GreaterThan(high) {
		low, high = high, low
	}
	mid := high.Add(low).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return decimal.Zero, false
	}
	return high.Sub(low).Div(mid).Mul(hundred), true
}

// DetectSpreads checks every unordered pair of quotes and returns those whose
// spread is strictly greater than thresholdPct.
func DetectSpreads(quotes []repository.Quote, thresholdPct decimal.Decimal) []Spread {
	var out []Spread
	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			low, high := quotes[i], quotes[j]
			if low.Value.GreaterThan(high.Value) {
				low, high = high, low
			}
			pct, ok := SpreadPct(low.Value, high.Value)
			if !ok || !pct.GreaterThan(thresholdPct) {
				continue
			}
			out = append(out, Spread{Low: low, High: high, Pct: pct})
		}
	}
	return out
}

// ArbitrageDetector records spreads between the most recent exchange-market quotes.
type ArbitrageDetector struct {
	store      *repository.Store
	log        *zap.SugaredLogger
	threshold  decimal.Decimal
	sampleSize int
	now        func() time.Time
}

// NewArbitrageDetector creates a new ArbitrageDetector.
func NewArbitrageDetector(store *repository.Store, logger *zap.SugaredLogger, thresholdPct float64, sampleSize int) *ArbitrageDetector {
	return &ArbitrageDetector{
		store:      store,
		log:        logger,
		threshold:  decimal.NewFromFloat(thresholdPct),
		sampleSize: sampleSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DetectCurrency persists one opportunity per qualifying pair. Validity windows are not applied.
func (d *ArbitrageDetector) DetectCurrency(ctx context.Context, code string) ([]repository.ArbitrageOpportunity, error) {
	cur, err := d.store.Currencies.GetCurrencyByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load currency %s: %w", code, err)
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}

	quotes, err := d.store.Quotes.RecentExchangeQuotes(ctx, cur.ID, d.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("load exchange quotes for %s: %w", cur.Code, err)
	}
	if len(quotes) < 2 {
		return nil, nil
	}

	now := d.now()
	var out []repository.ArbitrageOpportunity
	for _, s := range DetectSpreads(quotes, d.threshold) {
		o := repository.ArbitrageOpportunity{
			CurrencyID:  cur.ID,
			LowQuoteID:  s.Low.ID,
			HighQuoteID: s.High.ID,
			SpreadPct:   s.Pct,
			CreatedAt:   now,
			LowSource:   s.Low.SourceName,
			LowValue:    s.Low.Value,
			HighSource:  s.High.SourceName,
			HighValue:   s.High.Value,
		}
		if err := d.store.Arbitrage.InsertOpportunity(ctx, &o); err != nil {
			return out, fmt.Errorf("save arbitrage opportunity for %s: %w", cur.Code, err)
		}
		metrics.RecordArbitrageOpportunity(cur.Code)
		d.log.Infow("Arbitrage opportunity",
			"currency", cur.Code,
			"low_source", s.Low.SourceName, "low", s.Low.Value.String(),
			"high_source", s.High.SourceName, "high", s.High.Value.String(),
			"spread_pct", s.Pct.StringFixed(2),
		)
		out = append(out, o)
	}
	return out, nil
}
