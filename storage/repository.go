// Package storage provides the document storage abstraction shared by the
// credential store, the blog store and the repository-backed session store.
//
// Documents are addressed by (collection, recordType, recordID). A collection
// is the unit of atomicity: Batch runs its writes against one collection in a
// single transaction, which is how uniqueness indexes stay consistent with the
// documents they point at.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides writes within an atomic transaction.
// The collection is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Get(recordType, recordID string) (*Record, error)
	Put(recordType, recordID string, record *Record) error
	PutCAS(recordType, recordID string, expectedVersion uint64, record *Record) error
	Delete(recordType, recordID string) error
}

// Repository defines the interface for document storage.
//
// PutCAS with expectedVersion 0 is create-only: it fails with ErrCASFailed
// if the record already exists.
type Repository interface {
	Put(ctx context.Context, collection, recordType, recordID string, record *Record) error
	Get(ctx context.Context, collection, recordType, recordID string) (*Record, error)
	List(ctx context.Context, collection, recordType string) ([]string, error)
	Delete(ctx context.Context, collection, recordType, recordID string) error
	PutCAS(ctx context.Context, collection, recordType, recordID string, expectedVersion uint64, record *Record) error
	Batch(ctx context.Context, collection string, fn func(tx BatchTx) error) error
	Ping(ctx context.Context) error
	Close() error
}
