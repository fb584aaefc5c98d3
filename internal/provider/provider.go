// Package provider implements the source adapters that fetch USD prices from external APIs.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// USD is the quote currency every candidate price is expressed in.
const USD = "USD"

// Candidate is one price reported by an adapter. Market is set when the price
// comes from a specific trading pair and names the sub-market source to store it under.
type Candidate struct {
	CurrencyCode string
	Price        decimal.Decimal
	MarketPrice  decimal.NullDecimal
	Volume       decimal.NullDecimal
	Market       string
}

// FetchRequest is the input of one adapter call.
type FetchRequest struct {
	Currencies []string
	Prices     *PriceBook
}

// Adapter fetches current prices from one external source.
// A non-nil error means the fetch failed; an empty slice means no data this round.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]Candidate, error)
}

// MarketName builds the sub-market source name for a trading pair.
func MarketName(exchange, base, quote string) string {
	return fmt.Sprintf("%s_%s_%s_market", exchange, strings.ToUpper(base), strings.ToUpper(quote))
}

// Registry resolves adapters by case-insensitive name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToLower(a.Name())] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(name)]
	return a, ok
}

// Names returns the registered adapter names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	sort.Strings(names)
	return names
}

// decimalFromFloat converts f, rejecting NaN and ±Inf.
func decimalFromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// inverse returns 1/rate for a USD-based rate, or false if the rate is unusable.
func inverse(rate float64) (decimal.Decimal, bool) {
	d, ok := decimalFromFloat(rate)
	if !ok || !d.IsPositive() {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(1).Div(d), true
}

func wanted(codes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		out[strings.ToUpper(c)] = struct{}{}
	}
	return out
}

// getJSON performs a GET and decodes a JSON body into out.
func getJSON(ctx context.Context, client *http.Client, label, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("%s API request creation failed: %w", label, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s API request failed: %w", label, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s API returned status %d: %s", label, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s API response: %w", label, err)
	}
	return nil
}
