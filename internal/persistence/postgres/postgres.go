// Package postgres implements the persistence contracts on PostgreSQL via
// sqlx. Nested value objects (academic metrics, deadlines, factors) live in
// JSONB columns; the engine never sees the serialization.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/admitpath/admitpath/internal/persistence"
)

//go:embed schema.sql
var schema string

// defaultTimeout bounds every repository call.
const defaultTimeout = 5 * time.Second

// Open connects and verifies the database.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// EnsureSchema creates missing tables. Idempotent.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// NewStores builds the full store set over one connection pool.
func NewStores(db *sqlx.DB, timeout time.Duration) persistence.Stores {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return persistence.Stores{
		Profiles:  NewProfileRepo(db, timeout),
		Colleges:  NewCollegeRepo(db, timeout),
		Tasks:     NewTaskRepo(db, timeout),
		Deadlines: NewDeadlineRepo(db, timeout),
		History:   NewHistoryRepo(db, timeout),
		Overrides: NewOverrideRepo(db, timeout),
		Weights:   NewWeightsRepo(db, timeout),
		Models:    NewModelRepo(db, timeout),
	}
}
