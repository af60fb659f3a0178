// Package dedup tracks content hashes of previously accepted
// attachments so identical uploads are discarded before any further
// pipeline work.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/memory"
)

const indexKind = "hash_index"

// Detector answers "have we accepted this content before?" against a
// hash index persisted in the memory store.
//
// Check-then-insert against the store is not atomic, so the detector
// serializes per content hash: two concurrent uploads of identical
// bytes contend on the same lock and the second sees the first's index
// entry. Distinct hashes never contend.
type Detector struct {
	store  memory.Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*hashLock
}

type hashLock struct {
	sync.Mutex
	refs int
}

// NewDetector creates a duplicate detector backed by the given store.
func NewDetector(store memory.Store, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:  store,
		logger: logger,
		locks:  make(map[string]*hashLock),
	}
}

// CheckAndRecord looks up the content hash and, if unseen, records it
// against the document id in one serialized step. It returns the id of
// the previously accepted document when the content is a duplicate, or
// empty when this is the first sighting.
func (d *Detector) CheckAndRecord(ctx context.Context, contentHash, documentID string) (string, error) {
	if contentHash == "" {
		return "", fmt.Errorf("content hash cannot be empty")
	}

	lock := d.acquire(contentHash)
	defer d.release(contentHash, lock)

	existing, err := d.lookup(ctx, contentHash)
	if err != nil {
		return "", fmt.Errorf("hash index lookup: %w", err)
	}
	if existing != "" {
		return existing, nil
	}

	_, err = d.store.Add(ctx, contentHash, map[string]any{
		"kind":        indexKind,
		"hash":        contentHash,
		"document_id": documentID,
	})
	if err != nil {
		return "", fmt.Errorf("hash index insert: %w", err)
	}
	return "", nil
}

func (d *Detector) lookup(ctx context.Context, contentHash string) (string, error) {
	results, err := d.store.Search(ctx, contentHash, 1, map[string]any{
		"kind": indexKind,
		"hash": contentHash,
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	return memory.MetaString(results[0].Metadata, "document_id"), nil
}

func (d *Detector) acquire(hash string) *hashLock {
	d.mu.Lock()
	lock, ok := d.locks[hash]
	if !ok {
		lock = &hashLock{}
		d.locks[hash] = lock
	}
	lock.refs++
	d.mu.Unlock()

	lock.Lock()
	return lock
}

func (d *Detector) release(hash string, lock *hashLock) {
	lock.Unlock()

	d.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(d.locks, hash)
	}
	d.mu.Unlock()
}
