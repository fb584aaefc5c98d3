package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

var _ Adapter = (*ExchangeRateHostProvider)(nil)

// ExchangeRateHostProvider fetches fiat rates from the exchangerate.host API.
type ExchangeRateHostProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewExchangeRateHostProvider creates a new ExchangeRateHostProvider with the given configuration.
func NewExchangeRateHostProvider(baseURL, apiKey string, timeout time.Duration) *ExchangeRateHostProvider {
	if baseURL == "" {
		baseURL = "https://api.exchangerate.host"
	}
	return &ExchangeRateHostProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Adapter.
func (p *ExchangeRateHostProvider) Name() string { return "ExchangeRateHost" }

// getLatestURL forms the API URL for fetching USD-sourced rates.
func (p *ExchangeRateHostProvider) getLatestURL(symbols []string) string {
	return fmt.Sprintf("%s/live?access_key=%s&source=%s&currencies=%s",
		p.baseURL, url.QueryEscape(p.apiKey), USD, strings.Join(symbols, ","))
}

// exchangerate.host live API response structure
type erHostResponse struct {
	Success bool               `json:"success"`
	Source  string             `json:"source"`
	Quotes  map[string]float64 `json:"quotes"`
	Error   *struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// Fetch reports each requested currency's USD price from the "USD<code>" quotes.
func (p *ExchangeRateHostProvider) Fetch(ctx context.Context, req FetchRequest) ([]Candidate, error) {
	var symbols []string
	for code := range wanted(req.Currencies) {
		if code != USD {
			symbols = append(symbols, code)
		}
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	sort.Strings(symbols)

	var result erHostResponse
	if err := getJSON(ctx, p.client, "exchangerate.host", p.getLatestURL(symbols), &result); err != nil {
		return nil, err
	}
	if !result.Success {
		if result.Error != nil {
			return nil, fmt.Errorf("exchangerate.host API error %d: %s", result.Error.Code, result.Error.Info)
		}
		return nil, fmt.Errorf("exchangerate.host API returned success=false")
	}

	out := make([]Candidate, 0, len(symbols))
	for _, code := range symbols {
		// The API returns quotes keyed as "SOURCEQUOTE", e.g. "USDEUR"
		rate, ok := result.Quotes[USD+code]
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
