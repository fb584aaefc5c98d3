package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"priceaggregator/internal/provider"
	"priceaggregator/internal/repository"
)

// Locker acquires the cross-process pipeline lock. acquired is false when another process holds it.
type Locker func(ctx context.Context) (release func(), acquired bool, err error)

// PassReport summarizes one in-process pipeline pass.
type PassReport struct {
	PassID        string
	Started       time.Time
	Finished      time.Time
	Ingested      []IngestResult
	Aggregated    []string
	NoData        []string
	Opportunities int
	Errors        []error
}

// Pipeline wires ingestion, aggregation and arbitrage detection into passes.
type Pipeline struct {
	store       *repository.Store
	registry    *provider.Registry
	ingestor    *Ingestor
	aggregator  *Aggregator
	arbitrage   *ArbitrageDetector
	prices      *PriceService
	lock        Locker
	log         *zap.SugaredLogger
	concurrency int
	unitTimeout time.Duration
}

// PipelineDeps groups the collaborators of a Pipeline.
type PipelineDeps struct {
	Store       *repository.Store
	Registry    *provider.Registry
	Ingestor    *Ingestor
	Aggregator  *Aggregator
	Arbitrage   *ArbitrageDetector
	Prices      *PriceService
	Lock        Locker // nil disables locking
	Logger      *zap.SugaredLogger
	Concurrency int
	UnitTimeout time.Duration // bounds each ingestion or aggregation unit; zero means no deadline
}

// NewPipeline creates a new Pipeline.
func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Concurrency <= 0 {
		d.Concurrency = 1
	}
	return &Pipeline{
		store:       d.Store,
		registry:    d.Registry,
		ingestor:    d.Ingestor,
		aggregator:  d.Aggregator,
		arbitrage:   d.Arbitrage,
		prices:      d.Prices,
		lock:        d.Lock,
		log:         d.Logger,
		concurrency: d.Concurrency,
		unitTimeout: d.UnitTimeout,
	}
}

func (p *Pipeline) unitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.unitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.unitTimeout)
}

// NewPriceBook starts a per-pass conversion memo backed by the latest aggregates.
func (p *Pipeline) NewPriceBook() *provider.PriceBook {
	return provider.NewPriceBook(p.prices.LatestUSDPrice)
}

// SourceNames returns active top-level sources that have a registered adapter.
func (p *Pipeline) SourceNames(ctx context.Context) ([]string, error) {
	sources, err := p.store.Sources.ListSources(ctx, true)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range sources {
		if s.ParentSourceID != nil {
			continue
		}
		if _, ok := p.registry.Get(s.Name); ok {
			names = append(names, s.Name)
		}
	}
	return names, nil
}

// CurrencyCodes returns all tracked currency codes.
func (p *Pipeline) CurrencyCodes(ctx context.Context) ([]string, error) {
	currencies, err := p.store.Currencies.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(currencies))
	for i, c := range currencies {
		codes[i] = c.Code
	}
	return codes, nil
}

// IngestSource runs one source unit with its own price book.
func (p *Pipeline) IngestSource(ctx context.Context, name string, force bool) (*IngestResult, error) {
	return p.ingestor.IngestSource(ctx, name, force, p.NewPriceBook())
}

// AggregateCurrency runs one aggregation unit.
func (p *Pipeline) AggregateCurrency(ctx context.Context, code string) (*repository.Aggregate, error) {
	return p.aggregator.AggregateCurrency(ctx, code)
}

// DetectArbitrage runs one arbitrage unit.
func (p *Pipeline) DetectArbitrage(ctx context.Context, code string) ([]repository.ArbitrageOpportunity, error) {
	return p.arbitrage.DetectCurrency(ctx, code)
}

// RunPass ingests every source, then aggregates and checks arbitrage for every
// currency. Unit failures are collected in the report and never stop sibling units.
func (p *Pipeline) RunPass(ctx context.Context, force bool) (*PassReport, error) {
	report := &PassReport{PassID: uuid.NewString(), Started: time.Now().UTC()}
	log := p.log.With("pass_id", report.PassID)

	if p.lock != nil {
		release, acquired, err := p.lock(ctx)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrPassInProgress
		}
		defer release()
	}

	sources, err := p.SourceNames(ctx)
	if err != nil {
		return nil, err
	}
	codes, err := p.CurrencyCodes(ctx)
	if err != nil {
		return nil, err
	}
	log.Infow("Pipeline pass started", "sources", len(sources), "currencies", len(codes), "force", force)

	var mu sync.Mutex
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	book := p.NewPriceBook()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, name := range sources {
		g.Go(func() error {
			uctx, cancel := p.unitContext(gctx)
			defer cancel()
			res, err := p.ingestor.IngestSource(uctx, name, force, book)
			record(func() {
				if res != nil {
					report.Ingested = append(report.Ingested, *res)
				}
				if err != nil {
					log.Errorw("Ingestion unit failed", "source", name, "error", err)
					report.Errors = append(report.Errors, err)
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, code := range codes {
		g.Go(func() error {
			uctx, cancel := p.unitContext(gctx)
			defer cancel()
			_, aggErr := p.aggregator.AggregateCurrency(uctx, code)
			opps, arbErr := p.arbitrage.DetectCurrency(uctx, code)
			record(func() {
				switch {
				case aggErr == nil:
					report.Aggregated = append(report.Aggregated, code)
				case errors.Is(aggErr, ErrNoData):
					report.NoData = append(report.NoData, code)
				default:
					log.Errorw("Aggregation unit failed", "currency", code, "error", aggErr)
					report.Errors = append(report.Errors, aggErr)
				}
				report.Opportunities += len(opps)
				if arbErr != nil {
					log.Errorw("Arbitrage unit failed", "currency", code, "error", arbErr)
					report.Errors = append(report.Errors, arbErr)
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Aggregated)
	sort.Strings(report.NoData)
	sort.Slice(report.Ingested, func(i, j int) bool { return report.Ingested[i].Source < report.Ingested[j].Source })
	report.Finished = time.Now().UTC()
	log.Infow("Pipeline pass finished",
		"aggregated", len(report.Aggregated),
		"no_data", len(report.NoData),
		"opportunities", report.Opportunities,
		"errors", len(report.Errors),
		"duration", report.Finished.Sub(report.Started),
	)
	return report, nil
}
