// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (collection, record_type,
// record_id) that mirrors the key space of the BBolt and in-memory backends.
// Record fields are stored as individual columns.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/inkwell/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// execer abstracts both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertSQL = `INSERT INTO records (collection, record_type, record_id, ver, scheme, nonce, data, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (collection, record_type, record_id)
	DO UPDATE SET ver = $4, scheme = $5, nonce = $6, data = $7, version = $8`

func put(ctx context.Context, q execer, collection, recordType, recordID string, rec *storage.Record) error {
	_, err := q.Exec(ctx, upsertSQL,
		collection, recordType, recordID,
		rec.Ver, rec.Scheme, rec.Nonce, rec.Data, rec.Version)
	return err
}

func get(ctx context.Context, q execer, collection, recordType, recordID string) (*storage.Record, error) {
	var rec storage.Record
	err := q.QueryRow(ctx,
		`SELECT ver, scheme, nonce, data, version
		 FROM records WHERE collection = $1 AND record_type = $2 AND record_id = $3`,
		collection, recordType, recordID).Scan(
		&rec.Ver, &rec.Scheme, &rec.Nonce, &rec.Data, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func del(ctx context.Context, q execer, collection, recordType, recordID string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM records WHERE collection = $1 AND record_type = $2 AND record_id = $3`,
		collection, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

// putCAS performs a compare-and-swap put within an existing transaction.
func putCAS(ctx context.Context, tx pgx.Tx, collection, recordType, recordID string, expectedVersion uint64, rec *storage.Record) error {
	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE collection = $1 AND record_type = $2 AND record_id = $3
		 FOR UPDATE`,
		collection, recordType, recordID).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO records (collection, record_type, record_id, ver, scheme, nonce, data, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT DO NOTHING`,
			collection, recordType, recordID,
			rec.Ver, rec.Scheme, rec.Nonce, rec.Data, rec.Version)
		return err
	}
	if err != nil {
		return err
	}
	if expectedVersion == 0 || currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}
	return put(ctx, tx, collection, recordType, recordID, rec)
}

func (s *Store) Put(ctx context.Context, collection, recordType, recordID string, record *storage.Record) error {
	return put(ctx, s.pool, collection, recordType, recordID, record)
}

func (s *Store) Get(ctx context.Context, collection, recordType, recordID string) (*storage.Record, error) {
	return get(ctx, s.pool, collection, recordType, recordID)
}

func (s *Store) List(ctx context.Context, collection, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM records WHERE collection = $1 AND record_type = $2`,
		collection, recordType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(ctx context.Context, collection, recordType, recordID string) error {
	return del(ctx, s.pool, collection, recordType, recordID)
}

func (s *Store) PutCAS(ctx context.Context, collection, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return putCAS(ctx, tx, collection, recordType, recordID, expectedVersion, record)
	})
}

func (s *Store) Batch(ctx context.Context, collection string, fn func(tx storage.BatchTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgBatchTx{ctx: ctx, tx: tx, collection: collection})
	})
}

type pgBatchTx struct {
	ctx        context.Context
	tx         pgx.Tx
	collection string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Get(recordType, recordID string) (*storage.Record, error) {
	return get(btx.ctx, btx.tx, btx.collection, recordType, recordID)
}

func (btx *pgBatchTx) Put(recordType, recordID string, record *storage.Record) error {
	return put(btx.ctx, btx.tx, btx.collection, recordType, recordID, record)
}

func (btx *pgBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return putCAS(btx.ctx, btx.tx, btx.collection, recordType, recordID, expectedVersion, record)
}

func (btx *pgBatchTx) Delete(recordType, recordID string) error {
	return del(btx.ctx, btx.tx, btx.collection, recordType, recordID)
}
