// Package repository provides Postgres and in-memory storage for the
// call-event pipeline. Every write is an independent statement; convergence
// under re-delivery comes from natural-key upserts and update-where-null.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed store.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a Postgres repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks the connection for health endpoints.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
