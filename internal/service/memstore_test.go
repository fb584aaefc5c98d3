package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"priceaggregator/internal/repository"
)

// memStore is an in-memory implementation of every repository interface.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	currencies []repository.Currency
	sources    []repository.Source
	quotes     []repository.Quote
	aggregates []repository.Aggregate
	aggQuotes  map[int64][]int64
	failures   []repository.Failure
	blacklist  map[[2]int64]bool
	arbs       []repository.ArbitrageOpportunity
}

func newMemStore() *memStore {
	return &memStore{aggQuotes: map[int64][]int64{}, blacklist: map[[2]int64]bool{}}
}

func (m *memStore) store() *repository.Store {
	return &repository.Store{Currencies: m, Sources: m, Quotes: m, Aggregates: m, Failures: m, Arbitrage: m}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// fixtures

func (m *memStore) addCurrency(code string) repository.Currency {
	c, _ := m.UpsertCurrency(context.Background(), repository.Currency{Code: code, Name: code + " coin", MinProviders: 1})
	return *c
}

func (m *memStore) addSource(name string, cacheSeconds int, exchange bool) repository.Source {
	s, _ := m.SaveSource(context.Background(), repository.Source{Name: name, CacheSeconds: cacheSeconds, Active: true, IsExchangeMarket: exchange})
	return *s
}

func (m *memStore) addQuote(src repository.Source, cur repository.Currency, value, volume string, created time.Time, validFor time.Duration) repository.Quote {
	q := repository.Quote{
		SourceID:   src.ID,
		CurrencyID: cur.ID,
		Value:      decimal.RequireFromString(value),
		ValidUntil: created.Add(validFor),
		CreatedAt:  created,
	}
	if volume != "" {
		q.Volume = decimal.NewNullDecimal(decimal.RequireFromString(volume))
	}
	_ = m.InsertQuote(context.Background(), &q)
	return m.withSource(q)
}

func (m *memStore) addAggregate(cur repository.Currency, value string, created time.Time) repository.Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := repository.Aggregate{ID: m.id(), CurrencyID: cur.ID, Value: decimal.RequireFromString(value), SampleCount: 1, CreatedAt: created}
	m.aggregates = append(m.aggregates, a)
	return a
}

func (m *memStore) sourceByID(id int64) *repository.Source {
	for i := range m.sources {
		if m.sources[i].ID == id {
			return &m.sources[i]
		}
	}
	return nil
}

func (m *memStore) withSource(q repository.Quote) repository.Quote {
	if s := m.sourceByID(q.SourceID); s != nil {
		q.SourceName = s.Name
		q.IsExchangeMarket = s.IsExchangeMarket
	}
	return q
}

func (m *memStore) quoteByID(id int64) *repository.Quote {
	for i := range m.quotes {
		if m.quotes[i].ID == id {
			return &m.quotes[i]
		}
	}
	return nil
}

// CurrencyRepository

func (m *memStore) UpsertCurrency(_ context.Context, c repository.Currency) (*repository.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.currencies {
		if strings.EqualFold(m.currencies[i].Code, c.Code) {
			m.currencies[i].Name = c.Name
			m.currencies[i].MinProviders = c.MinProviders
			m.currencies[i].MaxStdDev = c.MaxStdDev
			out := m.currencies[i]
			return &out, nil
		}
	}
	c.ID = m.id()
	m.currencies = append(m.currencies, c)
	return &c, nil
}

func (m *memStore) GetCurrencyByCode(_ context.Context, code string) (*repository.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if strings.EqualFold(c.Code, code) {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListCurrencies(_ context.Context) ([]repository.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]repository.Currency(nil), m.currencies...)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// SourceRepository

func (m *memStore) SaveSource(_ context.Context, s repository.Source) (*repository.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sources {
		if strings.EqualFold(m.sources[i].Name, s.Name) {
			m.sources[i].CacheSeconds = s.CacheSeconds
			m.sources[i].IsExchangeMarket = s.IsExchangeMarket
			out := m.sources[i]
			return &out, nil
		}
	}
	s.ID = m.id()
	m.sources = append(m.sources, s)
	return &s, nil
}

func (m *memStore) GetOrCreateSource(_ context.Context, s repository.Source) (*repository.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources {
		if strings.EqualFold(existing.Name, s.Name) {
			return &existing, nil
		}
	}
	s.ID = m.id()
	m.sources = append(m.sources, s)
	return &s, nil
}

func (m *memStore) GetSourceByName(_ context.Context, name string) (*repository.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if strings.EqualFold(s.Name, name) {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListSources(_ context.Context, activeOnly bool) ([]repository.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Source
	for _, s := range m.sources {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// QuoteRepository

func (m *memStore) InsertQuote(_ context.Context, q *repository.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = m.id()
	m.quotes = append(m.quotes, *q)
	return nil
}

func (m *memStore) LatestQuoteTime(_ context.Context, sourceID int64) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, q := range m.quotes {
		s := m.sourceByID(q.SourceID)
		owned := q.SourceID == sourceID || (s != nil && s.ParentSourceID != nil && *s.ParentSourceID == sourceID)
		if !owned {
			continue
		}
		if latest == nil || q.CreatedAt.After(*latest) {
			t := q.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *memStore) sortedQuotes(keep func(q repository.Quote, s *repository.Source) bool, desc bool) []repository.Quote {
	var out []repository.Quote
	for _, q := range m.quotes {
		if keep(q, m.sourceByID(q.SourceID)) {
			out = append(out, m.withSource(q))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return (out[i].ID > out[j].ID) == desc
		}
		return out[i].CreatedAt.After(out[j].CreatedAt) == desc
	})
	return out
}

func (m *memStore) ValidQuotes(_ context.Context, currencyID int64, at time.Time) ([]repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedQuotes(func(q repository.Quote, s *repository.Source) bool {
		return q.CurrencyID == currencyID && !q.ValidUntil.Before(at) && s != nil && s.Active
	}, true), nil
}

func (m *memStore) RecentExchangeQuotes(_ context.Context, currencyID int64, limit int) ([]repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedQuotes(func(q repository.Quote, s *repository.Source) bool {
		return q.CurrencyID == currencyID && s != nil && s.Active && s.IsExchangeMarket
	}, true)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestQuote(_ context.Context, sourceID, currencyID int64) (*repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedQuotes(func(q repository.Quote, _ *repository.Source) bool {
		return q.SourceID == sourceID && q.CurrencyID == currencyID
	}, true)
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (m *memStore) QuoteNeighbors(_ context.Context, sourceID, currencyID int64, target time.Time) (before, after *repository.Quote, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.sortedQuotes(func(q repository.Quote, _ *repository.Source) bool {
		return q.SourceID == sourceID && q.CurrencyID == currencyID && !q.CreatedAt.After(target)
	}, true)
	a := m.sortedQuotes(func(q repository.Quote, _ *repository.Source) bool {
		return q.SourceID == sourceID && q.CurrencyID == currencyID && q.CreatedAt.After(target)
	}, false)
	if len(b) > 0 {
		before = &b[0]
	}
	if len(a) > 0 {
		after = &a[0]
	}
	return before, after, nil
}

func (m *memStore) QuoteValuesBetween(_ context.Context, sourceID, currencyID int64, from, to time.Time) ([]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []decimal.Decimal
	for _, q := range m.sortedQuotes(func(q repository.Quote, _ *repository.Source) bool {
		return q.SourceID == sourceID && q.CurrencyID == currencyID && !q.CreatedAt.Before(from) && !q.CreatedAt.After(to)
	}, false) {
		out = append(out, q.Value)
	}
	return out, nil
}

func (m *memStore) ChildQuotes(_ context.Context, parentID int64) ([]repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedQuotes(func(q repository.Quote, _ *repository.Source) bool {
		return q.ParentQuoteID != nil && *q.ParentQuoteID == parentID
	}, false), nil
}

func (m *memStore) PruneQuotesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	referenced := map[int64]bool{}
	for _, ids := range m.aggQuotes {
		for _, id := range ids {
			referenced[id] = true
		}
	}
	for _, o := range m.arbs {
		referenced[o.LowQuoteID] = true
		referenced[o.HighQuoteID] = true
	}
	var kept []repository.Quote
	var n int64
	for _, q := range m.quotes {
		inUse := referenced[q.ID] || (q.ParentQuoteID != nil && referenced[*q.ParentQuoteID])
		if q.CreatedAt.Before(cutoff) && !inUse {
			n++
			continue
		}
		kept = append(kept, q)
	}
	m.quotes = kept
	return n, nil
}

// AggregateRepository

func (m *memStore) SaveAggregation(_ context.Context, rec *repository.AggregationRecord) (*repository.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := append([]int64(nil), rec.UsedQuoteIDs...)
	if rec.Weighted != nil {
		rec.Weighted.ID = m.id()
		m.quotes = append(m.quotes, *rec.Weighted)
		for _, id := range rec.ConstituentIDs {
			if q := m.quoteByID(id); q != nil {
				pid := rec.Weighted.ID
				q.ParentQuoteID = &pid
			}
		}
		if rec.UsesWeighted {
			used = append(used, rec.Weighted.ID)
		}
	}
	agg := rec.Aggregate
	agg.ID = m.id()
	agg.SampleCount = len(used)
	m.aggregates = append(m.aggregates, agg)
	m.aggQuotes[agg.ID] = used
	return &agg, nil
}

func (m *memStore) sortedAggregates(keep func(a repository.Aggregate) bool, desc bool) []repository.Aggregate {
	var out []repository.Aggregate
	for _, a := range m.aggregates {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return (out[i].ID > out[j].ID) == desc
		}
		return out[i].CreatedAt.After(out[j].CreatedAt) == desc
	})
	return out
}

func (m *memStore) LatestAggregate(_ context.Context, currencyID int64) (*repository.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedAggregates(func(a repository.Aggregate) bool { return a.CurrencyID == currencyID }, true)
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (m *memStore) AggregateNeighbors(_ context.Context, currencyID int64, target time.Time) (before, after *repository.Aggregate, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.sortedAggregates(func(a repository.Aggregate) bool {
		return a.CurrencyID == currencyID && !a.CreatedAt.After(target)
	}, true)
	a := m.sortedAggregates(func(a repository.Aggregate) bool {
		return a.CurrencyID == currencyID && a.CreatedAt.After(target)
	}, false)
	if len(b) > 0 {
		before = &b[0]
	}
	if len(a) > 0 {
		after = &a[0]
	}
	return before, after, nil
}

func (m *memStore) AggregateValuesBetween(_ context.Context, currencyID int64, from, to time.Time) ([]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []decimal.Decimal
	for _, a := range m.sortedAggregates(func(a repository.Aggregate) bool {
		return a.CurrencyID == currencyID && !a.CreatedAt.Before(from) && !a.CreatedAt.After(to)
	}, false) {
		out = append(out, a.Value)
	}
	return out, nil
}

func (m *memStore) AggregateQuotes(_ context.Context, aggregateID int64) ([]repository.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Quote
	for _, id := range m.aggQuotes[aggregateID] {
		if q := m.quoteByID(id); q != nil {
			out = append(out, m.withSource(*q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out, nil
}

// FailureRepository

func (m *memStore) RecordFailure(_ context.Context, f *repository.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = m.id()
	m.failures = append(m.failures, *f)
	return nil
}

func (m *memStore) LatestFailure(_ context.Context, sourceID int64) (*repository.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *repository.Failure
	for i := range m.failures {
		f := m.failures[i]
		if f.SourceID == sourceID && (latest == nil || !f.CreatedAt.Before(latest.CreatedAt)) {
			latest = &f
		}
	}
	return latest, nil
}

func (m *memStore) PruneFailuresBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []repository.Failure
	var n int64
	for _, f := range m.failures {
		if f.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, f)
	}
	m.failures = kept
	return n, nil
}

func (m *memStore) IsBlacklisted(_ context.Context, currencyID, sourceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklist[[2]int64{currencyID, sourceID}], nil
}

func (m *memStore) AddToBlacklist(_ context.Context, currencyID, sourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[[2]int64{currencyID, sourceID}] = true
	return nil
}

// ArbitrageRepository

func (m *memStore) InsertOpportunity(_ context.Context, o *repository.ArbitrageOpportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.id()
	m.arbs = append(m.arbs, *o)
	return nil
}

func (m *memStore) RecentOpportunities(_ context.Context, currencyID int64, limit int) ([]repository.ArbitrageOpportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ArbitrageOpportunity
	for i := len(m.arbs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.arbs[i].CurrencyID == currencyID {
			out = append(out, m.arbs[i])
		}
	}
	return out, nil
}
