package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"priceaggregator/internal/provider"
	"priceaggregator/internal/repository"
)

func newTestPipeline(m *memStore, lock Locker, adapters ...provider.Adapter) *Pipeline {
	log := zap.NewNop().Sugar()
	registry := provider.NewRegistry(adapters...)
	ingestor := NewIngestor(m.store(), registry, log, time.Second, time.Minute)
	aggregator := NewAggregator(m.store(), nil, log)
	return NewPipeline(PipelineDeps{
		Store:       m.store(),
		Registry:    registry,
		Ingestor:    ingestor,
		Aggregator:  aggregator,
		Arbitrage:   NewArbitrageDetector(m.store(), log, 1, 10),
		Prices:      NewPriceService(m.store(), nil, log),
		Lock:        lock,
		Logger:      log,
		Concurrency: 2,
	})
}

func TestPipeline_RunPass(t *testing.T) {
	ctx := context.Background()

	t.Run("ingests, aggregates and collects failures", func(t *testing.T) {
		m := newMemStore()
		m.addCurrency("BTC")
		m.addCurrency("ETH")
		m.addSource("Bitstamp", 300, false)
		m.addSource("Frankfurter", 300, false)
		m.addSource("Orphan", 300, false)

		good := &mockAdapter{name: "Bitstamp"}
		good.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
			return req.Prices != nil
		})).Return([]provider.Candidate{candidate("BTC", "42000")}, nil).Once()
		bad := &mockAdapter{name: "Frankfurter"}
		bad.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("bad status code: 500")).Once()

		var released bool
		lock := func(context.Context) (func(), bool, error) {
			return func() { released = true }, true, nil
		}

		report, err := newTestPipeline(m, lock, good, bad).RunPass(ctx, false)
		require.NoError(t, err)
		assert.NotEmpty(t, report.PassID)
		require.Len(t, report.Ingested, 2)
		assert.Equal(t, "Bitstamp", report.Ingested[0].Source)
		assert.Equal(t, 1, report.Ingested[0].Saved)
		assert.True(t, report.Ingested[1].Failed)
		assert.Equal(t, []string{"BTC"}, report.Aggregated)
		assert.Equal(t, []string{"ETH"}, report.NoData)
		assert.Empty(t, report.Errors)
		assert.Len(t, m.aggregates, 1)
		assert.Len(t, m.failures, 1)
		assert.True(t, released)
		good.AssertExpectations(t)
		bad.AssertExpectations(t)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		m := newMemStore()
		lock := func(context.Context) (func(), bool, error) { return nil, false, nil }
		_, err := newTestPipeline(m, lock).RunPass(ctx, false)
		assert.ErrorIs(t, err, ErrPassInProgress)
	})

	t.Run("lock error", func(t *testing.T) {
		boom := errors.New("connection refused")
		lock := func(context.Context) (func(), bool, error) { return nil, false, boom }
		_, err := newTestPipeline(newMemStore(), lock).RunPass(ctx, false)
		assert.ErrorIs(t, err, boom)
	})
}

// stallingQuotes blocks every insert until the caller's context ends.
type stallingQuotes struct {
	*memStore
}

func (s stallingQuotes) InsertQuote(ctx context.Context, _ *repository.Quote) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPipeline_RunPass_UnitTimeout(t *testing.T) {
	m := newMemStore()
	m.addCurrency("BTC")
	m.addSource("Bitstamp", 300, false)

	st := m.store()
	st.Quotes = stallingQuotes{m}
	log := zap.NewNop().Sugar()
	adapter := &mockAdapter{name: "Bitstamp"}
	adapter.On("Fetch", mock.Anything, mock.Anything).Return([]provider.Candidate{candidate("BTC", "42000")}, nil).Once()
	registry := provider.NewRegistry(adapter)

	p := NewPipeline(PipelineDeps{
		Store:       st,
		Registry:    registry,
		Ingestor:    NewIngestor(st, registry, log, time.Second, time.Minute),
		Aggregator:  NewAggregator(st, nil, log),
		Arbitrage:   NewArbitrageDetector(st, log, 1, 10),
		Prices:      NewPriceService(st, nil, log),
		Logger:      log,
		Concurrency: 1,
		UnitTimeout: 50 * time.Millisecond,
	})

	done := make(chan struct{})
	var report *PassReport
	var err error
	go func() {
		defer close(done)
		report, err = p.RunPass(context.Background(), false)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not finish after the unit deadline")
	}
	require.NoError(t, err)
	require.NotEmpty(t, report.Errors)
	assert.ErrorIs(t, report.Errors[0], context.DeadlineExceeded)
	assert.Equal(t, []string{"BTC"}, report.NoData)
	adapter.AssertExpectations(t)
}

func TestPipeline_SourceNames(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	parent := m.addSource("Bittrex", 300, true)
	m.addSource("Bitstamp", 300, false)
	m.addSource("Bittrex_LTC_BTC_market", 300, true)
	m.sources[2].ParentSourceID = &parent.ID

	p := newTestPipeline(m, nil, &mockAdapter{name: "Bittrex"}, &mockAdapter{name: "Bitstamp"}, &mockAdapter{name: "Bittrex_LTC_BTC_market"})
	names, err := p.SourceNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bitstamp", "Bittrex"}, names)
}
