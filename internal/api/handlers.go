package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"priceaggregator/internal/repository"
	"priceaggregator/internal/service"
)

const (
	defaultArbitrageLimit = 20
	maxArbitrageLimit     = 200
)

// PriceQueries is the read side the handlers serve from.
type PriceQueries interface {
	LatestPrice(ctx context.Context, code string, detail bool) (*service.AggregateView, error)
	PriceAt(ctx context.Context, code string, target time.Time, detail bool) (*service.AggregateView, error)
	Movement(ctx context.Context, code string) (*service.MovementView, error)
	Currencies(ctx context.Context) ([]repository.Currency, error)
	Providers(ctx context.Context) ([]service.ProviderView, error)
	ProviderPrice(ctx context.Context, provider, code string) (*service.QuoteView, error)
	ProviderPriceAt(ctx context.Context, provider, code string, target time.Time) (*service.QuoteView, error)
	Arbitrage(ctx context.Context, code string, limit int) ([]repository.ArbitrageOpportunity, error)
}

// PassTrigger starts a pipeline pass in the background.
type PassTrigger interface {
	TriggerPass(ctx context.Context, force bool) error
}

func wantsDetail(r *http.Request) bool {
	return r.URL.Query().Get("detail") == "full"
}

// HandleGetPrice godoc
// @Summary Latest aggregate price
// @Description Returns the most recent aggregate USD price of a currency with its moving averages. detail=full adds the quotes the aggregate was computed from.
// @Tags prices
// @Produce json
// @Param code path string true "Currency code" minlength(2) maxlength(10)
// @Param detail query string false "Set to full to include used quotes" Enums(full)
// @Success 200 {object} AggregateResponse "Latest aggregate"
// @Failure 400 {object} ErrorResponse "Invalid currency code format"
// @Failure 404 {object} ErrorResponse "Unknown currency or no aggregate yet"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /price/{code} [get]
func HandleGetPrice(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.LatestPrice(r.Context(), chi.URLParam(r, "code"), wantsDetail(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAggregateResponse(v))
	}
}

// HandleGetPriceAt godoc
// @Summary Aggregate price at a point in time
// @Description Returns the aggregate closest to date_time, given as RFC 3339 or unix seconds.
// @Tags prices
// @Produce json
// @Param code path string true "Currency code"
// @Param date_time path string true "RFC 3339 timestamp or unix seconds"
// @Param detail query string false "Set to full to include used quotes" Enums(full)
// @Success 200 {object} AggregateResponse "Nearest aggregate"
// @Failure 400 {object} ErrorResponse "Invalid currency code or timestamp"
// @Failure 404 {object} ErrorResponse "Unknown currency or no aggregate"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /price/{code}/{date_time} [get]
func HandleGetPriceAt(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := service.ParseTimestamp(chi.URLParam(r, "date_time"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		v, err := svc.PriceAt(r.Context(), chi.URLParam(r, "code"), target, wantsDetail(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAggregateResponse(v))
	}
}

// HandleGetMovement godoc
// @Summary Price movement
// @Description Percentage change of the latest aggregate against the aggregates nearest to 1, 2, 3, 7, 14 and 30 days ago.
// @Tags prices
// @Produce json
// @Param code path string true "Currency code"
// @Success 200 {object} MovementResponse "Movement"
// @Failure 400 {object} ErrorResponse "Invalid currency code format"
// @Failure 404 {object} ErrorResponse "Unknown currency or no aggregate yet"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /movement/{code} [get]
func HandleGetMovement(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Movement(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := MovementResponse{
			Currency:        v.Currency,
			Price:           formatPrice(v.Price),
			AggregationTime: formatTime(v.AggregationTime),
			Movements:       make([]MovementEntry, 0, len(v.Movements)),
		}
		for _, m := range v.Movements {
			resp.Movements = append(resp.Movements, MovementEntry{
				Days:      m.Days,
				Pct:       m.Pct.StringFixed(4),
				PastPrice: formatPrice(m.PastPrice),
				PastTime:  formatTime(m.PastTime),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleListCurrencies godoc
// @Summary Tracked currencies
// @Tags reference
// @Produce json
// @Success 200 {array} CurrencyResponse "Currencies"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /currencies [get]
func HandleListCurrencies(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currencies, err := svc.Currencies(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]CurrencyResponse, 0, len(currencies))
		for _, c := range currencies {
			resp = append(resp, CurrencyResponse{
				Code:         c.Code,
				Name:         c.Name,
				MinProviders: c.MinProviders,
				MaxStdDev:    c.MaxStdDev,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleListProviders godoc
// @Summary Configured providers
// @Description Lists every source, including exchange sub-markets, with its most recent failure.
// @Tags reference
// @Produce json
// @Success 200 {array} ProviderResponse "Providers"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /providers [get]
func HandleListProviders(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers, err := svc.Providers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]ProviderResponse, 0, len(providers))
		for _, p := range providers {
			pr := ProviderResponse{
				Name:           p.Name,
				CacheSeconds:   p.CacheSeconds,
				Active:         p.Active,
				ExchangeMarket: p.IsExchangeMarket,
				Parent:         p.Parent,
			}
			if p.LastFailure != nil {
				pr.LastFailure = &FailureResponse{Message: p.LastFailure.Message, Time: formatTime(p.LastFailure.CreatedAt)}
			}
			resp = append(resp, pr)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleGetProviderPrice godoc
// @Summary Latest quote of one provider
// @Tags providers
// @Produce json
// @Param provider path string true "Provider name"
// @Param code path string true "Currency code"
// @Success 200 {object} QuoteResponse "Latest quote"
// @Failure 400 {object} ErrorResponse "Invalid currency code format"
// @Failure 404 {object} ErrorResponse "Unknown provider or currency, or no quote"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /provider/{provider}/price/{code} [get]
func HandleGetProviderPrice(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := svc.ProviderPrice(r.Context(), chi.URLParam(r, "provider"), chi.URLParam(r, "code"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newQuoteResponse(q))
	}
}

// HandleGetProviderPriceAt godoc
// @Summary Quote of one provider at a point in time
// @Tags providers
// @Produce json
// @Param provider path string true "Provider name"
// @Param code path string true "Currency code"
// @Param date_time path string true "RFC 3339 timestamp or unix seconds"
// @Success 200 {object} QuoteResponse "Nearest quote"
// @Failure 400 {object} ErrorResponse "Invalid currency code or timestamp"
// @Failure 404 {object} ErrorResponse "Unknown provider or currency, or no quote"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /provider/{provider}/price/{code}/{date_time} [get]
func HandleGetProviderPriceAt(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := service.ParseTimestamp(chi.URLParam(r, "date_time"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		q, err := svc.ProviderPriceAt(r.Context(), chi.URLParam(r, "provider"), chi.URLParam(r, "code"), target)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newQuoteResponse(q))
	}
}

// HandleGetArbitrage godoc
// @Summary Recent arbitrage opportunities
// @Tags prices
// @Produce json
// @Param code path string true "Currency code"
// @Param limit query int false "Maximum number of rows" minimum(1) maximum(200) default(20)
// @Success 200 {array} ArbitrageResponse "Opportunities, newest first"
// @Failure 400 {object} ErrorResponse "Invalid currency code or limit"
// @Failure 404 {object} ErrorResponse "Unknown currency"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /arbitrage/{code} [get]
func HandleGetArbitrage(svc PriceQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultArbitrageLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxArbitrageLimit {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 200"})
				return
			}
			limit = n
		}
		opps, err := svc.Arbitrage(r.Context(), chi.URLParam(r, "code"), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]ArbitrageResponse, 0, len(opps))
		for i := range opps {
			resp = append(resp, newArbitrageResponse(&opps[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleRunPipeline godoc
// @Summary Trigger a pipeline pass
// @Description Enqueues an ingestion pass and returns immediately. force bypasses the per-source cache gate.
// @Tags pipeline
// @Accept json
// @Produce json
// @Param request body RunRequest false "Pass options"
// @Success 202 {object} RunResponse "Pass enqueued"
// @Failure 400 {object} ErrorResponse "Invalid JSON"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /pipeline/run [post]
func HandleRunPipeline(trigger PassTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
			return
		}
		if err := trigger.TriggerPass(r.Context(), req.Force); err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error"})
			return
		}
		writeJSON(w, http.StatusAccepted, RunResponse{Status: "accepted"})
	}
}
