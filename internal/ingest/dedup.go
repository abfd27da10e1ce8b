package ingest

import (
	"context"
	"log"
	"sync"
)

// ExistenceChecker answers whether a content hash is already stored.
type ExistenceChecker interface {
	ChunkExists(ctx context.Context, hash string) (bool, error)
}

// Deduplicator ensures each distinct content string is stored at most once.
// It keeps an in-run set of hashes so a duplicate appearing twice in the
// same run is caught locally without a second remote check, and consults
// the store for anything unseen.
type Deduplicator struct {
	checker ExistenceChecker

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduplicator creates a Deduplicator backed by the given checker.
func NewDeduplicator(checker ExistenceChecker) *Deduplicator {
	return &Deduplicator{
		checker: checker,
		seen:    make(map[string]struct{}),
	}
}

// IsDuplicate reports whether the hash was already seen in this run or is
// already stored. The existence check is fail-open: if it errors, the
// content is treated as new and the store's unique hash constraint is the
// backstop. The hash is recorded in the in-run set regardless of outcome.
func (d *Deduplicator) IsDuplicate(ctx context.Context, hash string) bool {
	d.mu.Lock()
	_, ok := d.seen[hash]
	if !ok {
		d.seen[hash] = struct{}{}
	}
	d.mu.Unlock()
	if ok {
		return true
	}

	exists, err := d.checker.ChunkExists(ctx, hash)
	if err != nil {
		log.Printf("dedup: existence check failed for %s, treating as new: %v", shortHash(hash), err)
		return false
	}
	return exists
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
