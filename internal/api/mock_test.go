package api

import (
	"context"
	"time"

	"priceaggregator/internal/repository"
	"priceaggregator/internal/service"
)

// mockPriceQueries implements PriceQueries for testing. Unset funcs panic.
type mockPriceQueries struct {
	latestPriceFunc     func(ctx context.Context, code string, detail bool) (*service.AggregateView, error)
	priceAtFunc         func(ctx context.Context, code string, target time.Time, detail bool) (*service.AggregateView, error)
	movementFunc        func(ctx context.Context, code string) (*service.MovementView, error)
	currenciesFunc      func(ctx context.Context) ([]repository.Currency, error)
	providersFunc       func(ctx context.Context) ([]service.ProviderView, error)
	providerPriceFunc   func(ctx context.Context, provider, code string) (*service.QuoteView, error)
	providerPriceAtFunc func(ctx context.Context, provider, code string, target time.Time) (*service.QuoteView, error)
	arbitrageFunc       func(ctx context.Context, code string, limit int) ([]repository.ArbitrageOpportunity, error)
}

func (m *mockPriceQueries) LatestPrice(ctx context.Context, code string, detail bool) (*service.AggregateView, error) {
	return m.latestPriceFunc(ctx, code, detail)
}

func (m *mockPriceQueries) PriceAt(ctx context.Context, code string, target time.Time, detail bool) (*service.AggregateView, error) {
	return m.priceAtFunc(ctx, code, target, detail)
}

func (m *mockPriceQueries) Movement(ctx context.Context, code string) (*service.MovementView, error) {
	return m.movementFunc(ctx, code)
}

func (m *mockPriceQueries) Currencies(ctx context.Context) ([]repository.Currency, error) {
	return m.currenciesFunc(ctx)
}

func (m *mockPriceQueries) Providers(ctx context.Context) ([]service.ProviderView, error) {
	return m.providersFunc(ctx)
}

func (m *mockPriceQueries) ProviderPrice(ctx context.Context, provider, code string) (*service.QuoteView, error) {
	return m.providerPriceFunc(ctx, provider, code)
}

func (m *mockPriceQueries) ProviderPriceAt(ctx context.Context, provider, code string, target time.Time) (*service.QuoteView, error) {
	return m.providerPriceAtFunc(ctx, provider, code, target)
}

func (m *mockPriceQueries) Arbitrage(ctx context.Context, code string, limit int) ([]repository.ArbitrageOpportunity, error) {
	return m.arbitrageFunc(ctx, code, limit)
}

type mockTrigger struct {
	force  *bool
	err    error
	called int
}

func (m *mockTrigger) TriggerPass(_ context.Context, force bool) error {
	m.called++
	m.force = &force
	return m.err
}
