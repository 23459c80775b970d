package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lewtec/marcador/internal/domain"
)

// CounterRepository implements domain.CounterRepository on the sequences table
type CounterRepository struct {
	db *sql.DB
}

// NewCounterRepository creates a new CounterRepository
func NewCounterRepository(db *sql.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Increment is a single upsert statement, so SQLite's write lock makes the
// read-modify-write atomic across connections and processes.
func (r *CounterRepository) Increment(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO sequences (name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value = value + 1
RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, wrapErr("incrementing sequence "+name, err)
	}
	return value, nil
}

func (r *CounterRepository) Current(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sequences WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr("reading sequence "+name, err)
	}
	return value, nil
}

func (r *CounterRepository) SeedAtLeast(ctx context.Context, name string, value int64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sequences (name, value) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)`, name, value)
	return wrapErr("seeding sequence "+name, err)
}

func (r *CounterRepository) Set(ctx context.Context, name string, value int64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sequences (name, value) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return wrapErr("resetting sequence "+name, err)
}

// Verify that CounterRepository implements domain.CounterRepository
var _ domain.CounterRepository = (*CounterRepository)(nil)
