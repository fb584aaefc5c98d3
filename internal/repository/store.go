package repository

import "database/sql"

// Store bundles the repositories backed by one database handle.
type Store struct {
	Currencies CurrencyRepository
	Sources    SourceRepository
	Quotes     QuoteRepository
	Aggregates AggregateRepository
	Failures   FailureRepository
	Arbitrage  ArbitrageRepository
}

// NewPostgresStore wires every Postgres repository onto db.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Currencies: NewPostgresCurrencyRepository(db),
		Sources:    NewPostgresSourceRepository(db),
		Quotes:     NewPostgresQuoteRepository(db),
		Aggregates: NewPostgresAggregateRepository(db),
		Failures:   NewPostgresFailureRepository(db),
		Arbitrage:  NewPostgresArbitrageRepository(db),
	}
}
