package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// ErrDuplicate is returned when an insert hits a unique constraint
var ErrDuplicate = errors.New("record already exists")

// isUniqueViolation reports whether err is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isNoRows reports whether err means the query matched nothing
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// txQuerier is the subset of pgx.Tx used by the transactional writers
type txQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
