package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"priceaggregator/internal/repository"
	"priceaggregator/internal/service"
)

// Pipeline is the part of service.Pipeline the task handlers drive.
type Pipeline interface {
	SourceNames(ctx context.Context) ([]string, error)
	CurrencyCodes(ctx context.Context) ([]string, error)
	IngestSource(ctx context.Context, name string, force bool) (*service.IngestResult, error)
	AggregateCurrency(ctx context.Context, code string) (*repository.Aggregate, error)
	DetectArbitrage(ctx context.Context, code string) ([]repository.ArbitrageOpportunity, error)
}

// Handlers holds the asynq handlers of the pipeline tasks.
type Handlers struct {
	pipeline Pipeline
	enqueuer Enqueuer
	log      *zap.SugaredLogger
}

// NewHandlers creates a new Handlers.
func NewHandlers(pipeline Pipeline, enqueuer Enqueuer, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{pipeline: pipeline, enqueuer: enqueuer, log: logger}
}

// Register adds every pipeline task type to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeIngestAll, h.HandleIngestAll)
	mux.HandleFunc(TypeIngestSource, h.HandleIngestSource)
	mux.HandleFunc(TypeAggregateAll, h.HandleAggregateAll)
	mux.HandleFunc(TypeAggregateCurrency, h.HandleAggregateCurrency)
	mux.HandleFunc(TypeArbitrageAll, h.HandleArbitrageAll)
	mux.HandleFunc(TypeArbitrageCurrency, h.HandleArbitrageCurrency)
}

// HandleIngestAll enqueues one ingestion task per active source.
func (h *Handlers) HandleIngestAll(ctx context.Context, t *asynq.Task) error {
	var p PassPayload
	if err := decode(t.Payload(), &p); err != nil {
		h.log.Errorw("Invalid task payload", "type", t.Type(), "error", err)
		return nil
	}
	names, err := h.pipeline.SourceNames(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := h.enqueuer.Enqueue(ctx, TypeIngestSource, SourcePayload{Source: name, Force: p.Force}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", name, err))
		}
	}
	h.log.Infow("Ingestion fanned out", "sources", len(names), "force", p.Force)
	return errors.Join(errs...)
}

// HandleIngestSource runs one source unit.
func (h *Handlers) HandleIngestSource(ctx context.Context, t *asynq.Task) error {
	var p SourcePayload
	if err := decode(t.Payload(), &p); err != nil || p.Source == "" {
		h.log.Errorw("Invalid task payload", "type", t.Type(), "error", err)
		return nil
	}
	res, err := h.pipeline.IngestSource(ctx, p.Source, p.Force)
	if errors.Is(err, service.ErrUnknownSource) {
		h.log.Warnw("Dropping task for unknown source", "source", p.Source)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		h.log.Errorw("Task processing failed", "type", t.Type(), "source", p.Source, "error", err)
		return err
	}
	h.log.Infow("Task completed", "type", t.Type(), "source", res.Source, "skipped", res.Skipped, "failed", res.Failed, "saved", res.Saved)
	return nil
}

// HandleAggregateAll enqueues one aggregation task per currency.
func (h *Handlers) HandleAggregateAll(ctx context.Context, _ *asynq.Task) error {
	return h.fanOutCurrencies(ctx, TypeAggregateCurrency)
}

// HandleAggregateCurrency runs one aggregation unit. Having no data is not a task failure.
func (h *Handlers) HandleAggregateCurrency(ctx context.Context, t *asynq.Task) error {
	var p CurrencyPayload
	if err := decode(t.Payload(), &p); err != nil || p.Currency == "" {
		h.log.Errorw("Invalid task payload", "type", t.Type(), "error", err)
		return nil
	}
	agg, err := h.pipeline.AggregateCurrency(ctx, p.Currency)
	switch {
	case errors.Is(err, service.ErrNoData):
		return nil
	case errors.Is(err, service.ErrUnknownCurrency):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		h.log.Errorw("Task processing failed", "type", t.Type(), "currency", p.Currency, "error", err)
		return err
	}
	h.log.Infow("Task completed", "type", t.Type(), "currency", p.Currency, "aggregate_id", agg.ID)
	return nil
}

// HandleArbitrageAll enqueues one arbitrage task per currency.
func (h *Handlers) HandleArbitrageAll(ctx context.Context, _ *asynq.Task) error {
	return h.fanOutCurrencies(ctx, TypeArbitrageCurrency)
}

// HandleArbitrageCurrency runs one arbitrage unit.
func (h *Handlers) HandleArbitrageCurrency(ctx context.Context, t *asynq.Task) error {
	var p CurrencyPayload
	if err := decode(t.Payload(), &p); err != nil || p.Currency == "" {
		h.log.Errorw("Invalid task payload", "type", t.Type(), "error", err)
		return nil
	}
	opps, err := h.pipeline.DetectArbitrage(ctx, p.Currency)
	if errors.Is(err, service.ErrUnknownCurrency) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		h.log.Errorw("Task processing failed", "type", t.Type(), "currency", p.Currency, "error", err)
		return err
	}
	h.log.Infow("Task completed", "type", t.Type(), "currency", p.Currency, "opportunities", len(opps))
	return nil
}

func (h *Handlers) fanOutCurrencies(ctx context.Context, taskType string) error {
	codes, err := h.pipeline.CurrencyCodes(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, code := range codes {
		if err := h.enqueuer.Enqueue(ctx, taskType, CurrencyPayload{Currency: code}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", code, err))
		}
	}
	h.log.Infow("Currencies fanned out", "type", taskType, "currencies", len(codes))
	return errors.Join(errs...)
}
