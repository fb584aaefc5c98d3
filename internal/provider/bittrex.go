package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var _ Adapter = (*BittrexProvider)(nil)

// BittrexProvider reads all market summaries and reports one exchange-market
// candidate per trading pair whose traded coin is tracked.
type BittrexProvider struct {
	baseURL string
	client  *http.Client
}

// NewBittrexProvider creates a new BittrexProvider.
func NewBittrexProvider(baseURL string, timeout time.Duration) *BittrexProvider {
	if baseURL == "" {
		baseURL = "https://api.bittrex.com/api/v1.1"
	}
	return &BittrexProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Adapter.
func (p *BittrexProvider) Name() string { return "Bittrex" }

type bittrexSummaries struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Result  []bittrexSummary `json:"result"`
}

// MarketName is "<QUOTE>-<TRADED>", e.g. "BTC-LTC": Last is the LTC price in BTC
// and Volume is the traded amount in LTC.
type bittrexSummary struct {
	MarketName string              `json:"MarketName"`
	Last       decimal.NullDecimal `json:"Last"`
	Volume     decimal.NullDecimal `json:"Volume"`
}

// Fetch converts each pair's last price to USD through the pass price book.
// Pairs whose quote coin has no known USD price are skipped.
func (p *BittrexProvider) Fetch(ctx context.Context, req FetchRequest) ([]Candidate, error) {
	var result bittrexSummaries
	if err := getJSON(ctx, p.client, "bittrex", p.baseURL+"/public/getmarketsummaries", &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("bittrex API returned success=false: %s", result.Message)
	}

	tracked := wanted(req.Currencies)
	var out []Candidate
	for _, m := range result.Result {
		quoteCoin, traded, ok := strings.Cut(strings.ToUpper(m.MarketName), "-")
		if !ok || quoteCoin == "" || traded == "" {
			continue
		}
		if _, ok := tracked[traded]; !ok {
			continue
		}
		if !m.Last.Valid || !m.Last.Decimal.IsPositive() {
			continue
		}
		quoteUSD, ok := req.Prices.USDPrice(ctx, quoteCoin)
		if !ok {
			continue
		}

		price := m.Last.Decimal.Mul(quoteUSD)
		c := Candidate{
			CurrencyCode: traded,
			Price:        price,
			MarketPrice:  decimal.NewNullDecimal(m.Last.Decimal),
			Volume:       decimal.NewNullDecimal(decimal.Zero),
			Market:       MarketName(p.Name(), traded, quoteCoin),
		}
		if m.Volume.Valid {
			c.Volume = decimal.NewNullDecimal(m.Volume.Decimal.Mul(price))
		}
		out = append(out, c)
	}
	return out, nil
}
