package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

var _ Adapter = (*FrankfurterProvider)(nil)

// frankfurterCurrencies are the ECB reference currencies Frankfurter publishes.
var frankfurterCurrencies = map[string]struct{}{
	"AUD": {}, "BGN": {}, "BRL": {}, "CAD": {}, "CHF": {}, "CNY": {}, "CZK": {}, "DKK": {},
	"EUR": {}, "GBP": {}, "HKD": {}, "HUF": {}, "IDR": {}, "ILS": {}, "INR": {}, "ISK": {},
	"JPY": {}, "KRW": {}, "MXN": {}, "MYR": {}, "NOK": {}, "NZD": {}, "PHP": {}, "PLN": {},
	"RON": {}, "SEK": {}, "SGD": {}, "THB": {}, "TRY": {}, "ZAR": {},
}

// FrankfurterProvider fetches fiat rates from the Frankfurter API.
type FrankfurterProvider struct {
	baseURL string
	client  *http.Client
}

// NewFrankfurterProvider creates a new FrankfurterProvider.
func NewFrankfurterProvider(baseURL string, timeout time.Duration) *FrankfurterProvider {
	if baseURL == "" {
		baseURL = "https://api.frankfurter.dev/v1"
	}
	return &FrankfurterProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Adapter.
func (p *FrankfurterProvider) Name() string { return "Frankfurter" }

type frankfurterResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// Fetch asks for USD-based rates and reports each currency's USD price as 1/rate.
func (p *FrankfurterProvider) Fetch(ctx context.Context, req FetchRequest) ([]Candidate, error) {
	var symbols []string
	for code := range wanted(req.Currencies) {
		if _, ok := frankfurterCurrencies[code]; ok {
			symbols = append(symbols, code)
		}
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	sort.Strings(symbols)

	reqURL := fmt.Sprintf("%s/latest?base=%s&symbols=%s", p.baseURL, USD, strings.Join(symbols, ","))
	var result frankfurterResponse
	if err := getJSON(ctx, p.client, "frankfurter", reqURL, &result); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(symbols))
	for _, code := range symbols {
		rate, ok := result.Rates[code]
		if !ok {
			continue
		}
		price, ok := inverse(rate)
		if !ok {
			continue
		}
		out = append(out, Candidate{CurrencyCode: code, Price: price})
	}
	return out, nil
}
