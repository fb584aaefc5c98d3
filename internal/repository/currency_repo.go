package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CurrencyRepository defines DB operations for tracked currencies.
type CurrencyRepository interface {
	UpsertCurrency(ctx context.Context, c Currency) (*Currency, error)
	GetCurrencyByCode(ctx context.Context, code string) (*Currency, error)
	ListCurrencies(ctx context.Context) ([]Currency, error)
}

// PostgresCurrencyRepository is an implementation of CurrencyRepository using PostgreSQL.
type PostgresCurrencyRepository struct {
	db *sql.DB
}

// NewPostgresCurrencyRepository creates a new PostgresCurrencyRepository.
func NewPostgresCurrencyRepository(db *sql.DB) CurrencyRepository {
	return &PostgresCurrencyRepository{db: db}
}

const currencyColumns = `id, code, name, min_providers, max_std_dev, created_at`

// UpsertCurrency inserts the currency or refreshes its descriptive fields when the code already exists.
func (r *PostgresCurrencyRepository) UpsertCurrency(ctx context.Context, c Currency) (*Currency, error) {
	query := `INSERT INTO currencies (code, name, min_providers, max_std_dev)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT ((LOWER(code)))
              DO UPDATE SET name = EXCLUDED.name,
                            min_providers = EXCLUDED.min_providers,
                            max_std_dev = EXCLUDED.max_std_dev
              RETURNING ` + currencyColumns

	row := r.db.QueryRowContext(ctx, query, c.Code, c.Name, c.MinProviders, c.MaxStdDev)
	out, err := scanCurrency(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert currency %s: %w", c.Code, err)
	}
	return out, nil
}

// GetCurrencyByCode looks a currency up case-insensitively. It returns (nil, nil) when absent.
func (r *PostgresCurrencyRepository) GetCurrencyByCode(ctx context.Context, code string) (*Currency, error) {
	query := `SELECT ` + currencyColumns + ` FROM currencies WHERE LOWER(code) = LOWER($1)`
	return scanCurrency(r.db.QueryRowContext(ctx, query, code))
}

// ListCurrencies returns all currencies ordered by code.
func (r *PostgresCurrencyRepository) ListCurrencies(ctx context.Context) ([]Currency, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+currencyColumns+` FROM currencies ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.MinProviders, &c.MaxStdDev, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCurrency(row *sql.Row) (*Currency, error) {
	var c Currency
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.MinProviders, &c.MaxStdDev, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
