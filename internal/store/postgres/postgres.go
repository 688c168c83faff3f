// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"genplane/internal/store"

	_ "github.com/lib/pq"
)

// Default queue policy
const (
	DefaultMaxAttempts       = 3
	DefaultVisibilityTimeout = 5 * time.Minute
)

// Store provides PostgreSQL-backed implementations of all repositories.
type Store struct {
	db                *sql.DB
	artifacts         store.ArtifactRemover
	maxAttempts       int
	visibilityTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithArtifacts sets the artifact store used when a generation is deleted.
func WithArtifacts(a store.ArtifactRemover) Option {
	return func(s *Store) { s.artifacts = a }
}

// WithQueuePolicy overrides the claim attempt limit and lease length.
func WithQueuePolicy(maxAttempts int, visibilityTimeout time.Duration) Option {
	return func(s *Store) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if visibilityTimeout > 0 {
			s.visibilityTimeout = visibilityTimeout
		}
	}
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newStore(db, opts...), nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:                db,
		maxAttempts:       DefaultMaxAttempts,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the connection pool for migrations and the event notifier.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx starts a transaction shared by the generation and queue writes.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.StorageError("begin transaction", err)
	}
	return tx, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}

// nullableJSON passes JSON to the driver as text so json columns accept it.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
