// Package postgres implements fynq.RemoteStore on top of a pgx connection pool.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meikuraledutech/fynq"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is shared by the pool and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists chat sessions and messages in PostgreSQL.
type PGStore struct {
	db     DB
	schema Schema
}

// Option configures a PGStore.
type Option func(*PGStore)

// WithSchema pins the column set the store reads and writes.
func WithSchema(s Schema) Option {
	return func(p *PGStore) {
		p.schema = s
	}
}

// New creates a PGStore. Without WithSchema the latest schema is assumed;
// call DetectSchema after migrating to follow the database instead.
func New(db DB, opts ...Option) *PGStore {
	s := &PGStore{db: db, schema: SchemaFor(LatestSchemaVersion)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the column set currently in use.
func (s *PGStore) Schema() Schema {
	return s.schema
}

// Ensure PGStore implements the store contracts at compile time.
var (
	_ fynq.RemoteStore    = (*PGStore)(nil)
	_ fynq.AtomicAppender = (*PGStore)(nil)
)
