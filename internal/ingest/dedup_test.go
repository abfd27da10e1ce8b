package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	mu     sync.Mutex
	exists map[string]bool
	err    error
	calls  int
}

func (f *fakeChecker) ChunkExists(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.exists[hash], nil
}

func TestIsDuplicate_NewContent(t *testing.T) {
	checker := &fakeChecker{exists: map[string]bool{}}
	dedup := NewDeduplicator(checker)

	assert.False(t, dedup.IsDuplicate(context.Background(), "hash-a"))
	assert.Equal(t, 1, checker.calls)
}

func TestIsDuplicate_AlreadyStored(t *testing.T) {
	checker := &fakeChecker{exists: map[string]bool{"hash-a": true}}
	dedup := NewDeduplicator(checker)

	assert.True(t, dedup.IsDuplicate(context.Background(), "hash-a"))
}

func TestIsDuplicate_SameRunCaughtLocally(t *testing.T) {
	checker := &fakeChecker{exists: map[string]bool{}}
	dedup := NewDeduplicator(checker)

	assert.False(t, dedup.IsDuplicate(context.Background(), "hash-a"))
	assert.True(t, dedup.IsDuplicate(context.Background(), "hash-a"))
	assert.Equal(t, 1, checker.calls, "second check must not hit the store")
}

func TestIsDuplicate_CheckerFailureIsFailOpen(t *testing.T) {
	checker := &fakeChecker{err: errors.New("store unreachable")}
	dedup := NewDeduplicator(checker)

	assert.False(t, dedup.IsDuplicate(context.Background(), "hash-a"),
		"an unreachable store must not block ingestion")

	// The hash is still remembered for the rest of the run.
	assert.True(t, dedup.IsDuplicate(context.Background(), "hash-a"))
	assert.Equal(t, 1, checker.calls)
}

func TestIsDuplicate_DistinctHashesIndependent(t *testing.T) {
	checker := &fakeChecker{exists: map[string]bool{"hash-b": true}}
	dedup := NewDeduplicator(checker)

	assert.False(t, dedup.IsDuplicate(context.Background(), "hash-a"))
	assert.True(t, dedup.IsDuplicate(context.Background(), "hash-b"))
	assert.False(t, dedup.IsDuplicate(context.Background(), "hash-c"))
}
