package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// ArbitrageRepository stores detected cross-market spreads.
type ArbitrageRepository interface {
	InsertOpportunity(ctx context.Context, o *ArbitrageOpportunity) error
	RecentOpportunities(ctx context.Context, currencyID int64, limit int) ([]ArbitrageOpportunity, error)
}

// PostgresArbitrageRepository is an implementation of ArbitrageRepository using PostgreSQL.
type PostgresArbitrageRepository struct {
	db *sql.DB
}

// NewPostgresArbitrageRepository creates a new PostgresArbitrageRepository.
func NewPostgresArbitrageRepository(db *sql.DB) ArbitrageRepository {
	return &PostgresArbitrageRepository{db: db}
}

// InsertOpportunity stores o and fills in its ID.
func (r *PostgresArbitrageRepository) InsertOpportunity(ctx context.Context, o *ArbitrageOpportunity) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO arbitrage_opportunities (currency_id, low_quote_id, high_quote_id, spread_pct, created_at)
         VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		o.CurrencyID, o.LowQuoteID, o.HighQuoteID, o.SpreadPct, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to insert arbitrage opportunity: %w", err)
	}
	return nil
}

// RecentOpportunities returns the newest opportunities for a currency with both legs resolved.
func (r *PostgresArbitrageRepository) RecentOpportunities(ctx context.Context, currencyID int64, limit int) ([]ArbitrageOpportunity, error) {
	query := `SELECT a.id, a.currency_id, a.low_quote_id, a.high_quote_id, a.spread_pct, a.created_at,
                     ls.name, lq.value, hs.name, hq.value
              FROM arbitrage_opportunities a
              JOIN quotes lq ON lq.id = a.low_quote_id
              JOIN sources ls ON ls.id = lq.source_id
              JOIN quotes hq ON hq.id = a.high_quote_id
              JOIN sources hs ON hs.id = hq.source_id
              WHERE a.currency_id = $1
              ORDER BY a.created_at DESC, a.id DESC
              LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, currencyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArbitrageOpportunity
	for rows.Next() {
		var o ArbitrageOpportunity
		if err := rows.Scan(&o.ID, &o.CurrencyID, &o.LowQuoteID, &o.HighQuoteID, &o.SpreadPct, &o.CreatedAt,
			&o.LowSource, &o.LowValue, &o.HighSource, &o.HighValue); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
