package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var _ Adapter = (*BitstampProvider)(nil)

var bitstampCurrencies = map[string]struct{}{
	"BTC": {}, "EUR": {}, "XRP": {}, "LTC": {}, "ETH": {}, "BCH": {},
}

// BitstampProvider reads the last trade price of <code>/USD tickers.
type BitstampProvider struct {
	baseURL string
	client  *http.Client
}

// NewBitstampProvider creates a new BitstampProvider.
func NewBitstampProvider(baseURL string, timeout time.Duration) *BitstampProvider {
	if baseURL == "" {
		baseURL = "https://www.bitstamp.net/api/v2"
	}
	return &BitstampProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Adapter.
func (p *BitstampProvider) Name() string { return "Bitstamp" }

type bitstampTicker struct {
	Last   decimal.Decimal `json:"last"`
	Volume decimal.Decimal `json:"volume"`
}

// Fetch requests one ticker per supported currency. Any failed ticker fails the whole fetch.
func (p *BitstampProvider) Fetch(ctx context.Context, req FetchRequest) ([]Candidate, error) {
	var codes []string
	for code := range wanted(req.Currencies) {
		if _, ok := bitstampCurrencies[code]; ok {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	out := make([]Candidate, 0, len(codes))
	for _, code := range codes {
		reqURL := fmt.Sprintf("%s/ticker/%susd/", p.baseURL, strings.ToLower(code))
		var ticker bitstampTicker
		if err := getJSON(ctx, p.client, "bitstamp", reqURL, &ticker); err != nil {
			return nil, fmt.Errorf("ticker %s: %w", code, err)
		}
		out = append(out, Candidate{CurrencyCode: code, Price: ticker.Last})
	}
	return out, nil
}
