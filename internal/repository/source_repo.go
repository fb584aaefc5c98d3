package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SourceRepository defines DB operations for quote sources.
type SourceRepository interface {
	SaveSource(ctx context.Context, s Source) (*Source, error)
	GetOrCreateSource(ctx context.Context, s Source) (*Source, error)
	GetSourceByName(ctx context.Context, name string) (*Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]Source, error)
}

// PostgresSourceRepository is an implementation of SourceRepository using PostgreSQL.
type PostgresSourceRepository struct {
	db *sql.DB
}

// NewPostgresSourceRepository creates a new PostgresSourceRepository.
func NewPostgresSourceRepository(db *sql.DB) SourceRepository {
	return &PostgresSourceRepository{db: db}
}

const sourceColumns = `id, name, cache_seconds, active, is_exchange_market, parent_source_id, created_at`

// SaveSource inserts a configured source or overwrites its settings if the name
// exists. An existing row keeps its active flag so an operator's switch survives
// re-seeding; s.Active only applies to new rows.
func (r *PostgresSourceRepository) SaveSource(ctx context.Context, s Source) (*Source, error) {
	query := `INSERT INTO sources (name, cache_seconds, active, is_exchange_market, parent_source_id)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT ((LOWER(name)))
              DO UPDATE SET cache_seconds = EXCLUDED.cache_seconds,
                            is_exchange_market = EXCLUDED.is_exchange_market
              RETURNING ` + sourceColumns

	out, err := scanSource(r.db.QueryRowContext(ctx, query, s.Name, s.CacheSeconds, s.Active, s.IsExchangeMarket, s.ParentSourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to save source %s: %w", s.Name, err)
	}
	return out, nil
}

// GetOrCreateSource returns the existing source with the same name, or inserts s.
// Concurrent callers racing on the same name all receive the single stored row.
func (r *PostgresSourceRepository) GetOrCreateSource(ctx context.Context, s Source) (*Source, error) {
	query := `INSERT INTO sources (name, cache_seconds, active, is_exchange_market, parent_source_id)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT ((LOWER(name)))
              DO UPDATE SET name = sources.name  -- no-op, returns the stored row
              RETURNING ` + sourceColumns

	out, err := scanSource(r.db.QueryRowContext(ctx, query, s.Name, s.CacheSeconds, s.Active, s.IsExchangeMarket, s.ParentSourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create source %s: %w", s.Name, err)
	}
	return out, nil
}

// GetSourceByName looks a source up case-insensitively. It returns (nil, nil) when absent.
func (r *PostgresSourceRepository) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE LOWER(name) = LOWER($1)`
	return scanSource(r.db.QueryRowContext(ctx, query, name))
}

// ListSources returns sources ordered by name.
func (r *PostgresSourceRepository) ListSources(ctx context.Context, activeOnly bool) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var s Source
		var parent sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Name, &s.CacheSeconds, &s.Active, &s.IsExchangeMarket, &parent, &s.CreatedAt); err != nil {
			return nil, err
		}
		if parent.Valid {
			s.ParentSourceID = &parent.Int64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSource(row *sql.Row) (*Source, error) {
	var s Source
	var parent sql.NullInt64
	err := row.Scan(&s.ID, &s.Name, &s.CacheSeconds, &s.Active, &s.IsExchangeMarket, &parent, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if parent.Valid {
		s.ParentSourceID = &parent.Int64
	}
	return &s, nil
}
