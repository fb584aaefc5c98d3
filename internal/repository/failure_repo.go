package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FailureRepository records failed fetches and manages the (currency, source) blacklist.
type FailureRepository interface {
	RecordFailure(ctx context.Context, f *Failure) error
	LatestFailure(ctx context.Context, sourceID int64) (*Failure, error)
	PruneFailuresBefore(ctx context.Context, cutoff time.Time) (int64, error)
	IsBlacklisted(ctx context.Context, currencyID, sourceID int64) (bool, error)
	AddToBlacklist(ctx context.Context, currencyID, sourceID int64) error
}

// PostgresFailureRepository is an implementation of FailureRepository using PostgreSQL.
type PostgresFailureRepository struct {
	db *sql.DB
}

// NewPostgresFailureRepository creates a new PostgresFailureRepository.
func NewPostgresFailureRepository(db *sql.DB) FailureRepository {
	return &PostgresFailureRepository{db: db}
}

// RecordFailure appends a failure row and fills in its ID.
func (r *PostgresFailureRepository) RecordFailure(ctx context.Context, f *Failure) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO source_failures (source_id, message, created_at) VALUES ($1, $2, $3) RETURNING id`,
		f.SourceID, f.Message, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// LatestFailure returns the newest failure of a source, or (nil, nil).
func (r *PostgresFailureRepository) LatestFailure(ctx context.Context, sourceID int64) (*Failure, error) {
	var f Failure
	err := r.db.QueryRowContext(ctx,
		`SELECT id, source_id, message, created_at FROM source_failures
         WHERE source_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sourceID,
	).Scan(&f.ID, &f.SourceID, &f.Message, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// PruneFailuresBefore deletes failures created before cutoff.
func (r *PostgresFailureRepository) PruneFailuresBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM source_failures WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune failures: %w", err)
	}
	return res.RowsAffected()
}

// IsBlacklisted reports whether quotes of the source for the currency must be discarded.
func (r *PostgresFailureRepository) IsBlacklisted(ctx context.Context, currencyID, sourceID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM blacklist WHERE currency_id = $1 AND source_id = $2)`,
		currencyID, sourceID,
	).Scan(&exists)
	return exists, err
}

// AddToBlacklist is idempotent.
func (r *PostgresFailureRepository) AddToBlacklist(ctx context.Context, currencyID, sourceID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blacklist (currency_id, source_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		currencyID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to blacklist source %d for currency %d: %w", sourceID, currencyID, err)
	}
	return nil
}
