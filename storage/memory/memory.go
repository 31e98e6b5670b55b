// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmcleod/inkwell/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for tests, demos and single-process deployments.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Record
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Record)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(_ context.Context, collection, recordType, recordID string, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(collection, recordType, recordID, record)
	return nil
}

func (r *Repository) putLocked(collection, recordType, recordID string, record *storage.Record) {
	if _, ok := r.data[collection]; !ok {
		r.data[collection] = make(map[string]*storage.Record)
	}
	r.data[collection][makeKey(recordType, recordID)] = record.Clone()
}

func (r *Repository) Get(_ context.Context, collection, recordType, recordID string) (*storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(collection, recordType, recordID)
}

func (r *Repository) getLocked(collection, recordType, recordID string) (*storage.Record, error) {
	rec, ok := r.data[collection][makeKey(recordType, recordID)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *Repository) List(_ context.Context, collection, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[collection] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, collection, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(collection, recordType, recordID)
}

func (r *Repository) deleteLocked(collection, recordType, recordID string) error {
	k := makeKey(recordType, recordID)
	if _, ok := r.data[collection][k]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(r.data[collection], k)
	return nil
}

func (r *Repository) PutCAS(_ context.Context, collection, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(collection, recordType, recordID, expectedVersion, record)
}

func (r *Repository) putCASLocked(collection, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	existing, err := r.getLocked(collection, recordType, recordID)
	switch {
	case err != nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case err == nil && (expectedVersion == 0 || existing.Version != expectedVersion):
		return storage.ErrCASFailed
	}
	r.putLocked(collection, recordType, recordID, record)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(_ context.Context, collection string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot(collection)
	if err := fn(&batchTx{repo: r, collection: collection}); err != nil {
		r.restore(collection, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshot(collection string) map[string]*storage.Record {
	original, ok := r.data[collection]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Record, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *Repository) restore(collection string, snapshot map[string]*storage.Record) {
	if snapshot == nil {
		delete(r.data, collection)
		return
	}
	r.data[collection] = snapshot
}

func (r *Repository) Ping(context.Context) error { return nil }

func (r *Repository) Close() error { return nil }

// batchTx runs with the repository lock already held.
type batchTx struct {
	repo       *Repository
	collection string
}

func (tx *batchTx) Get(recordType, recordID string) (*storage.Record, error) {
	return tx.repo.getLocked(tx.collection, recordType, recordID)
}

func (tx *batchTx) Put(recordType, recordID string, record *storage.Record) error {
	tx.repo.putLocked(tx.collection, recordType, recordID, record)
	return nil
}

func (tx *batchTx) PutCAS(recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return tx.repo.putCASLocked(tx.collection, recordType, recordID, expectedVersion, record)
}

func (tx *batchTx) Delete(recordType, recordID string) error {
	return tx.repo.deleteLocked(tx.collection, recordType, recordID)
}
