// Package tenant reads the authoritative tenant list from the platform
// database. Search data is a projection; this is the system of record the
// cleaner reconciles against.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const activeTenantsQuery = `SELECT company_key FROM companies WHERE deleted_at IS NULL`

// Repo implements search.TenantSource over the platform database.
type Repo struct {
	db *sql.DB
}

// Open connects to the platform database and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	if dsn == "" {
		return nil, errors.New("tenant: empty dsn")
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("tenant: parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tenant: ping: %w", err)
	}
	return &Repo{db: db}, nil
}

// New wraps an existing handle. The caller keeps ownership of db.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// ActiveTenants returns the company keys of every non-deleted tenant.
func (r *Repo) ActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, activeTenantsQuery)
	if err != nil {
		return nil, fmt.Errorf("tenant: query: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("tenant: scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenant: rows: %w", err)
	}
	return keys, nil
}

// Close releases the database handle.
func (r *Repo) Close() error {
	return r.db.Close()
}
