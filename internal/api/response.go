// Package api implements the HTTP handlers of the price aggregator.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"priceaggregator/internal/repository"
	"priceaggregator/internal/service"
)

const priceDecimals = 8

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid currency code format"`
}

// AggregateResponse is an aggregate price of one currency.
type AggregateResponse struct {
	Currency          string            `json:"currency" example:"BTC"`
	CurrencyName      string            `json:"currency_name" example:"Bitcoin"`
	AggregationTime   string            `json:"aggregation_time" example:"2024-03-01T12:00:00Z"`
	Price             string            `json:"price" example:"62011.48000000"`
	SampleCount       int               `json:"sample_count" example:"4"`
	StandardDeviation float64           `json:"standard_deviation" example:"12.5"`
	Variance          float64           `json:"variance" example:"156.25"`
	MovingAverages    map[string]string `json:"moving_averages"`
	UsedQuotes        []QuoteResponse   `json:"used_quotes,omitempty"`
	Warning           string            `json:"warning,omitempty" example:"stale"`
}

// QuoteResponse is one stored quote of a source.
type QuoteResponse struct {
	Provider          string            `json:"provider" example:"Bitstamp"`
	Currency          string            `json:"currency" example:"BTC"`
	USDPrice          string            `json:"usd_price" example:"62000.00000000"`
	MarketPrice       *string           `json:"market_price,omitempty" example:"0.00031000"`
	Volume            *string           `json:"volume,omitempty" example:"125000.00000000"`
	FetchTime         string            `json:"fetch_time" example:"2024-03-01T12:00:00Z"`
	ValidUntil        string            `json:"valid_until" example:"2024-03-01T12:05:00Z"`
	MovingAverages    map[string]string `json:"moving_averages,omitempty"`
	CombinedResponses []QuoteResponse   `json:"combined_responses,omitempty"`
}

// MovementResponse is the change of the latest price over several periods.
type MovementResponse struct {
	Currency        string          `json:"currency" example:"BTC"`
	Price           string          `json:"price" example:"62011.48000000"`
	AggregationTime string          `json:"aggregation_time" example:"2024-03-01T12:00:00Z"`
	Movements       []MovementEntry `json:"movements"`
}

// MovementEntry is the change over one period.
type MovementEntry struct {
	Days      int    `json:"days" example:"7"`
	Pct       string `json:"pct" example:"4.2100"`
	PastPrice string `json:"past_price" example:"59506.00000000"`
	PastTime  string `json:"past_time" example:"2024-02-23T12:00:00Z"`
}

// CurrencyResponse is a tracked currency.
type CurrencyResponse struct {
	Code         string  `json:"code" example:"BTC"`
	Name         string  `json:"name" example:"Bitcoin"`
	MinProviders int     `json:"min_providers" example:"1"`
	MaxStdDev    float64 `json:"max_std_dev" example:"0"`
}

// ProviderResponse is a configured source.
type ProviderResponse struct {
	Name           string           `json:"name" example:"Bitstamp"`
	CacheSeconds   int              `json:"cache_seconds" example:"300"`
	Active         bool             `json:"active" example:"true"`
	ExchangeMarket bool             `json:"exchange_market" example:"false"`
	Parent         string           `json:"parent,omitempty" example:"Bittrex"`
	LastFailure    *FailureResponse `json:"last_failure,omitempty"`
}

// FailureResponse is the most recent failed fetch of a source.
type FailureResponse struct {
	Message string `json:"message" example:"bad status code: 503"`
	Time    string `json:"time" example:"2024-03-01T11:55:00Z"`
}

// ArbitrageResponse is one detected spread between two exchange markets.
type ArbitrageResponse struct {
	LowProvider  string `json:"low_provider" example:"Bittrex_BTC_USDT_market"`
	LowPrice     string `json:"low_price" example:"61000.00000000"`
	HighProvider string `json:"high_provider" example:"Bittrex_BTC_EUR_market"`
	HighPrice    string `json:"high_price" example:"62500.00000000"`
	SpreadPct    string `json:"spread_pct" example:"2.4291"`
	DetectedAt   string `json:"detected_at" example:"2024-03-01T12:00:00Z"`
}

// RunRequest is the body of a pipeline trigger.
type RunRequest struct {
	Force bool `json:"force" example:"false"`
}

// RunResponse acknowledges a pipeline trigger.
type RunResponse struct {
	Status string `json:"status" example:"accepted"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrInvalidTimestamp):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrUnknownCurrency):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Unknown currency"})
	case errors.Is(err, service.ErrUnknownSource):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Unknown provider"})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No data available"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error"})
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(priceDecimals)
}

func formatNullPrice(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := formatPrice(d.Decimal)
	return &s
}

func formatAverages(m map[string]float64) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = formatPrice(decimal.NewFromFloat(v))
	}
	return out
}

func newAggregateResponse(v *service.AggregateView) AggregateResponse {
	resp := AggregateResponse{
		Currency:          v.Currency,
		CurrencyName:      v.CurrencyName,
		AggregationTime:   formatTime(v.AggregationTime),
		Price:             formatPrice(v.Price),
		SampleCount:       v.SampleCount,
		StandardDeviation: v.StandardDeviation,
		Variance:          v.Variance,
		MovingAverages:    formatAverages(v.MovingAverages),
	}
	if resp.MovingAverages == nil {
		resp.MovingAverages = map[string]string{}
	}
	for i := range v.UsedQuotes {
		resp.UsedQuotes = append(resp.UsedQuotes, newQuoteResponse(&v.UsedQuotes[i]))
	}
	if v.Stale {
		resp.Warning = "stale"
	}
	return resp
}

func newQuoteResponse(q *service.QuoteView) QuoteResponse {
	resp := QuoteResponse{
		Provider:       q.Provider,
		Currency:       q.Currency,
		USDPrice:       formatPrice(q.USDPrice),
		MarketPrice:    formatNullPrice(q.MarketPrice),
		Volume:         formatNullPrice(q.Volume),
		FetchTime:      formatTime(q.FetchTime),
		ValidUntil:     formatTime(q.ValidUntil),
		MovingAverages: formatAverages(q.MovingAverages),
	}
	for i := range q.Combined {
		resp.CombinedResponses = append(resp.CombinedResponses, newQuoteResponse(&q.Combined[i]))
	}
	return resp
}

func newArbitrageResponse(o *repository.ArbitrageOpportunity) ArbitrageResponse {
	return ArbitrageResponse{
		LowProvider:  o.LowSource,
		LowPrice:     formatPrice(o.LowValue),
		HighProvider: o.HighSource,
		HighPrice:    formatPrice(o.HighValue),
		SpreadPct:    o.SpreadPct.StringFixed(4),
		DetectedAt:   formatTime(o.CreatedAt),
	}
}
