package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRepository defines DB operations for quotes.
type QuoteRepository interface {
	InsertQuote(ctx context.Context, q *Quote) error
	LatestQuoteTime(ctx context.Context, sourceID int64) (*time.Time, error)
	ValidQuotes(ctx context.Context, currencyID int64, at time.Time) ([]Quote, error)
	RecentExchangeQuotes(ctx context.Context, currencyID int64, limit int) ([]Quote, error)
	LatestQuote(ctx context.Context, sourceID, currencyID int64) (*Quote, error)
	QuoteNeighbors(ctx context.Context, sourceID, currencyID int64, target time.Time) (before, after *Quote, err error)
	QuoteValuesBetween(ctx context.Context, sourceID, currencyID int64, from, to time.Time) ([]decimal.Decimal, error)
	ChildQuotes(ctx context.Context, parentID int64) ([]Quote, error)
	PruneQuotesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresQuoteRepository is an implementation of QuoteRepository using PostgreSQL.
type PostgresQuoteRepository struct {
	db *sql.DB
}

// NewPostgresQuoteRepository creates a new PostgresQuoteRepository.
func NewPostgresQuoteRepository(db *sql.DB) QuoteRepository {
	return &PostgresQuoteRepository{db: db}
}

const quoteColumns = `q.id, q.source_id, q.currency_id, q.value, q.market_value, q.volume,
                      q.parent_quote_id, q.valid_until, q.created_at, s.name, s.is_exchange_market`

// InsertQuote stores q and fills in its ID.
func (r *PostgresQuoteRepository) InsertQuote(ctx context.Context, q *Quote) error {
	return insertQuote(ctx, r.db, q)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertQuote(ctx context.Context, db queryRower, q *Quote) error {
	query := `INSERT INTO quotes (source_id, currency_id, value, market_value, volume, parent_quote_id, valid_until, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
              RETURNING id`
	err := db.QueryRowContext(ctx, query,
		q.SourceID, q.CurrencyID, q.Value, q.MarketValue, q.Volume,
		q.ParentQuoteID, q.ValidUntil, q.CreatedAt,
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("failed to insert quote: %w", err)
	}
	return nil
}

// LatestQuoteTime returns when the source or any of its sub-markets last produced a quote.
// It returns (nil, nil) when the source has never produced one.
func (r *PostgresQuoteRepository) LatestQuoteTime(ctx context.Context, sourceID int64) (*time.Time, error) {
	query := `SELECT MAX(created_at) FROM quotes
              WHERE source_id = $1
                 OR source_id IN (SELECT id FROM sources WHERE parent_source_id = $1)`
	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, sourceID).Scan(&latest); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// ValidQuotes returns quotes of active sources that are still valid at the given moment, newest first.
func (r *PostgresQuoteRepository) ValidQuotes(ctx context.Context, currencyID int64, at time.Time) ([]Quote, error) {
	query := `SELECT ` + quoteColumns + `
              FROM quotes q JOIN sources s ON s.id = q.source_id
              WHERE q.currency_id = $1 AND q.valid_until >= $2 AND s.active
              ORDER BY q.created_at DESC, q.id DESC`
	return r.queryQuotes(ctx, query, currencyID, at)
}

// RecentExchangeQuotes returns the newest exchange-market quotes of active sources regardless of validity.
func (r *PostgresQuoteRepository) RecentExchangeQuotes(ctx context.Context, currencyID int64, limit int) ([]Quote, error) {
	query := `SELECT ` + quoteColumns + `
              FROM quotes q JOIN sources s ON s.id = q.source_id
              WHERE q.currency_id = $1 AND s.is_exchange_market AND s.active
              ORDER BY q.created_at DESC, q.id DESC
              LIMIT $2`
	return r.queryQuotes(ctx, query, currencyID, limit)
}

// LatestQuote returns the newest quote for a source and currency, or (nil, nil).
func (r *PostgresQuoteRepository) LatestQuote(ctx context.Context, sourceID, currencyID int64) (*Quote, error) {
	query := `SELECT ` + quoteColumns + `
              FROM quotes q JOIN sources s ON s.id = q.source_id
              WHERE q.source_id = $1 AND q.currency_id = $2
              ORDER BY q.created_at DESC, q.id DESC
              LIMIT 1`
	return scanQuote(r.db.QueryRowContext(ctx, query, sourceID, currencyID))
}

// QuoteNeighbors returns the latest quote at or before target and the earliest one strictly after it.
func (r *PostgresQuoteRepository) QuoteNeighbors(ctx context.Context, sourceID, currencyID int64, target time.Time) (before, after *Quote, err error) {
	beforeQuery := `SELECT ` + quoteColumns + `
              FROM quotes q JOIN sources s ON s.id = q.source_id
              WHERE q.source_id = $1 AND q.currency_id = $2 AND q.created_at <= $3
              ORDER BY q.created_at DESC, q.id DESC
              LIMIT 1`
	afterQuery := `SELECT ` + quoteColumns + `
              FROM quotes q JOIN sources s ON s.id = q.source_id
              WHERE q.source_id = $1 AND q.currency_id = $2 AND q.created_at > $3
              ORDER BY q.created_at ASC, q.id ASC
              LIMIT 1`

	if before, err = scanQuote(r.db.QueryRowContext(ctx, beforeQuery, sourceID, currencyID, target)); err != nil {
		return nil, nil, err
	}
	if after, err = scanQuote(r.db.QueryRowContext(ctx, afterQuery, sourceID, currencyID, target)); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// QuoteValuesBetween returns quote values with from <= created_at <= to.
func (r *PostgresQuoteRepository) QuoteValuesBetween(ctx context.Context, sourceID, currencyID int64, from, to time.Time) ([]decimal.Decimal, error) {
	query := `SELECT value FROM quotes
              WHERE source_id = $1 AND currency_id = $2 AND created_at BETWEEN $3 AND $4
              ORDER BY created_at`
	return queryDecimals(ctx, r.db, query, sourceID, currencyID, from, to)
}

// ChildQuotes returns the exchange quotes folded into a weighted quote.
func (r *PostgresQuoteRepository) ChildQuotes(ctx context.Context, parentID int64) ([]Quote, error) {
	query := `SELECT ` + quoteColumns + `
              FROM quotes q JOIN sources s ON s.id = q.source_id
              WHERE q.parent_quote_id = $1
              ORDER BY s.name`
	return r.queryQuotes(ctx, query, parentID)
}

const pruneQuotesQuery = `
DELETE FROM quotes q
WHERE q.created_at < $1
  AND NOT EXISTS (SELECT 1 FROM aggregate_quotes aq WHERE aq.quote_id = q.id)
  AND NOT EXISTS (
      SELECT 1 FROM aggregate_quotes aq
      WHERE q.parent_quote_id IS NOT NULL AND aq.quote_id = q.parent_quote_id)
  AND NOT EXISTS (
      SELECT 1 FROM arbitrage_opportunities ao
      WHERE ao.low_quote_id = q.id OR ao.high_quote_id = q.id)`

// PruneQuotesBefore deletes quotes created before cutoff and reports how many went.
// Quotes an aggregate was computed from, the constituents of such a weighted
// quote and quotes named by an arbitrage opportunity are kept.
func (r *PostgresQuoteRepository) PruneQuotesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, pruneQuotesQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune quotes: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresQuoteRepository) queryQuotes(ctx context.Context, query string, args ...any) ([]Quote, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Quote
	for rows.Next() {
		q, err := scanQuoteRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuoteRow(row rowScanner) (*Quote, error) {
	var q Quote
	var parent sql.NullInt64
	err := row.Scan(&q.ID, &q.SourceID, &q.CurrencyID, &q.Value, &q.MarketValue, &q.Volume,
		&parent, &q.ValidUntil, &q.CreatedAt, &q.SourceName, &q.IsExchangeMarket)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		q.ParentQuoteID = &parent.Int64
	}
	return &q, nil
}

// scanQuote maps a single row into a Quote, returning (nil, nil) for sql.ErrNoRows.
func scanQuote(row *sql.Row) (*Quote, error) {
	q, err := scanQuoteRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return q, nil
}

func queryDecimals(ctx context.Context, db *sql.DB, query string, args ...any) ([]decimal.Decimal, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
