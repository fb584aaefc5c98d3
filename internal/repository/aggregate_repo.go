package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AggregateRepository defines DB operations for aggregates.
type AggregateRepository interface {
	SaveAggregation(ctx context.Context, rec *AggregationRecord) (*Aggregate, error)
	LatestAggregate(ctx context.Context, currencyID int64) (*Aggregate, error)
	AggregateNeighbors(ctx context.Context, currencyID int64, target time.Time) (before, after *Aggregate, err error)
	AggregateValuesBetween(ctx context.Context, currencyID int64, from, to time.Time) ([]decimal.Decimal, error)
	AggregateQuotes(ctx context.Context, aggregateID int64) ([]Quote, error)
}

// PostgresAggregateRepository is an implementation of AggregateRepository using PostgreSQL.
type PostgresAggregateRepository struct {
	db *sql.DB
}

// NewPostgresAggregateRepository creates a new PostgresAggregateRepository.
func NewPostgresAggregateRepository(db *sql.DB) AggregateRepository {
	return &PostgresAggregateRepository{db: db}
}

const aggregateColumns = `id, currency_id, value, sample_count, standard_deviation, variance, created_at`

// SaveAggregation persists the weighted quote, its parent links, the aggregate
// and the used-quote set in one transaction.
func (r *PostgresAggregateRepository) SaveAggregation(ctx context.Context, rec *AggregationRecord) (_ *Aggregate, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin aggregation tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	used := append([]int64(nil), rec.UsedQuoteIDs...)
	if rec.Weighted != nil {
		if err = insertQuote(ctx, tx, rec.Weighted); err != nil {
			return nil, err
		}
		for _, id := range rec.ConstituentIDs {
			if _, err = tx.ExecContext(ctx, `UPDATE quotes SET parent_quote_id = $1 WHERE id = $2`, rec.Weighted.ID, id); err != nil {
				return nil, fmt.Errorf("link quote %d to weighted quote: %w", id, err)
			}
		}
		if rec.UsesWeighted {
			used = append(used, rec.Weighted.ID)
		}
	}

	agg := rec.Aggregate
	err = tx.QueryRowContext(ctx,
		`INSERT INTO aggregates (currency_id, value, sample_count, standard_deviation, variance, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id`,
		agg.CurrencyID, agg.Value, len(used), agg.StandardDeviation, agg.Variance, agg.CreatedAt,
	).Scan(&agg.ID)
	if err != nil {
		return nil, fmt.Errorf("insert aggregate: %w", err)
	}
	agg.SampleCount = len(used)

	for _, id := range used {
		if _, err = tx.ExecContext(ctx, `INSERT INTO aggregate_quotes (aggregate_id, quote_id) VALUES ($1, $2)`, agg.ID, id); err != nil {
			return nil, fmt.Errorf("link aggregate to quote %d: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit aggregation: %w", err)
	}
	return &agg, nil
}

// LatestAggregate returns the newest aggregate for a currency, or (nil, nil).
func (r *PostgresAggregateRepository) LatestAggregate(ctx context.Context, currencyID int64) (*Aggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM aggregates
              WHERE currency_id = $1
              ORDER BY created_at DESC, id DESC
              LIMIT 1`
	return scanAggregate(r.db.QueryRowContext(ctx, query, currencyID))
}

// AggregateNeighbors returns the latest aggregate at or before target and the earliest one strictly after it.
func (r *PostgresAggregateRepository) AggregateNeighbors(ctx context.Context, currencyID int64, target time.Time) (before, after *Aggregate, err error) {
	beforeQuery := `SELECT ` + aggregateColumns + ` FROM aggregates
              WHERE currency_id = $1 AND created_at <= $2
              ORDER BY created_at DESC, id DESC
              LIMIT 1`
	afterQuery := `SELECT ` + aggregateColumns + ` FROM aggregates
              WHERE currency_id = $1 AND created_at > $2
              ORDER BY created_at ASC, id ASC
              LIMIT 1`

	if before, err = scanAggregate(r.db.QueryRowContext(ctx, beforeQuery, currencyID, target)); err != nil {
		return nil, nil, err
	}
	if after, err = scanAggregate(r.db.QueryRowContext(ctx, afterQuery, currencyID, target)); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// AggregateValuesBetween returns aggregate values with from <= created_at <= to.
func (r *PostgresAggregateRepository) AggregateValuesBetween(ctx context.Context, currencyID int64, from, to time.Time) ([]decimal.Decimal, error) {
	query := `SELECT value FROM aggregates
              WHERE currency_id = $1 AND created_at BETWEEN $2 AND $3
              ORDER BY created_at`
	return queryDecimals(ctx, r.db, query, currencyID, from, to)
}

// AggregateQuotes returns the quotes an aggregate was computed from.
func (r *PostgresAggregateRepository) AggregateQuotes(ctx context.Context, aggregateID int64) ([]Quote, error) {
	query := `SELECT ` + quoteColumns + `
              FROM aggregate_quotes aq
              JOIN quotes q ON q.id = aq.quote_id
              JOIN sources s ON s.id = q.source_id
              WHERE aq.aggregate_id = $1
              ORDER BY s.name`
	rows, err := r.db.QueryContext(ctx, query, aggregateID)
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

func scanAggregate(row *sql.Row) (*Aggregate, error) {
	var a Aggregate
	err := row.Scan(&a.ID, &a.CurrencyID, &a.Value, &a.SampleCount, &a.StandardDeviation, &a.Variance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
