// Package sqlite implements storage.Repository on an embedded SQLite
// database using the pure-Go ncruces driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jmcleod/inkwell/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func put(ctx context.Context, q execer, collection, recordType, recordID string, rec *storage.Record) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO records (collection, record_type, record_id, ver, scheme, nonce, data, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (collection, record_type, record_id)
		 DO UPDATE SET ver = excluded.ver, scheme = excluded.scheme, nonce = excluded.nonce,
		               data = excluded.data, version = excluded.version`,
		collection, recordType, recordID,
		rec.Ver, rec.Scheme, rec.Nonce, rec.Data, int64(rec.Version))
	return err
}

func get(ctx context.Context, q execer, collection, recordType, recordID string) (*storage.Record, error) {
	var (
		rec     storage.Record
		version int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT ver, scheme, nonce, data, version
		 FROM records WHERE collection = ? AND record_type = ? AND record_id = ?`,
		collection, recordType, recordID).Scan(&rec.Ver, &rec.Scheme, &rec.Nonce, &rec.Data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.Version = uint64(version)
	return &rec, nil
}

func del(ctx context.Context, q execer, collection, recordType, recordID string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND record_type = ? AND record_id = ?`,
		collection, recordType, recordID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func putCAS(ctx context.Context, q execer, collection, recordType, recordID string, expectedVersion uint64, rec *storage.Record) error {
	existing, err := get(ctx, q, collection, recordType, recordID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
	case err != nil:
		return err
	case expectedVersion == 0 || existing.Version != expectedVersion:
		return storage.ErrCASFailed
	}
	return put(ctx, q, collection, recordType, recordID, rec)
}

func (s *Store) Put(ctx context.Context, collection, recordType, recordID string, record *storage.Record) error {
	return put(ctx, s.db, collection, recordType, recordID, record)
}

func (s *Store) Get(ctx context.Context, collection, recordType, recordID string) (*storage.Record, error) {
	return get(ctx, s.db, collection, recordType, recordID)
}

func (s *Store) List(ctx context.Context, collection, recordType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM records WHERE collection = ? AND record_type = ?`,
		collection, recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, collection, recordType, recordID string) error {
	return del(ctx, s.db, collection, recordType, recordID)
}

func (s *Store) PutCAS(ctx context.Context, collection, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return s.Batch(ctx, collection, func(tx storage.BatchTx) error {
		return tx.PutCAS(recordType, recordID, expectedVersion, record)
	})
}

// Batch runs fn inside a single SQL transaction.
func (s *Store) Batch(ctx context.Context, collection string, fn func(tx storage.BatchTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteBatchTx{ctx: ctx, tx: tx, collection: collection}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteBatchTx struct {
	ctx        context.Context
	tx         *sql.Tx
	collection string
}

func (btx *sqliteBatchTx) Get(recordType, recordID string) (*storage.Record, error) {
	return get(btx.ctx, btx.tx, btx.collection, recordType, recordID)
}

func (btx *sqliteBatchTx) Put(recordType, recordID string, record *storage.Record) error {
	return put(btx.ctx, btx.tx, btx.collection, recordType, recordID, record)
}

func (btx *sqliteBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return putCAS(btx.ctx, btx.tx, btx.collection, recordType, recordID, expectedVersion, record)
}

func (btx *sqliteBatchTx) Delete(recordType, recordID string) error {
	return del(btx.ctx, btx.tx, btx.collection, recordType, recordID)
}
