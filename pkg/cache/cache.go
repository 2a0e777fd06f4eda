// Package cache implements ArtifactCache: checksum-based deduplication of
// LLM evaluation and rewrite work across a pipeline run (spec.md §4.2).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/persistence"
	"golang.org/x/text/unicode/norm"
)

// Cache is the ArtifactCache: a thin, checksum-addressed read/write
// surface over Persistence.
type Cache struct {
	store persistence.Persistence
}

// New builds a Cache backed by store.
func New(store persistence.Persistence) *Cache {
	return &Cache{store: store}
}

// Checksum computes the SHA-256 hex digest of the UTF-8 NFC-normalized
// requirement title (spec.md §4.2).
func Checksum(requirementTitle string) string {
	normalized := norm.NFC.String(requirementTitle)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// GetLatestByChecksum returns the cached record for (checksum, scope), or
// nil if no record exists yet.
func (c *Cache) GetLatestByChecksum(ctx context.Context, checksum string, scope models.CacheScope) (*models.CacheRecord, error) {
	rec, err := c.store.GetLatestByChecksum(ctx, checksum, scope)
	if err != nil {
		return nil, fmt.Errorf("artifact cache read: %w", err)
	}
	return rec, nil
}

// Put writes a new cache record. Writes are idempotent from the caller's
// perspective: writing the same (checksum, scope, payload) twice is safe,
// and "latest timestamp wins" resolves any races (spec.md §5).
func (c *Cache) Put(ctx context.Context, rec models.CacheRecord) error {
	if err := c.store.PutCacheRecord(ctx, rec); err != nil {
		return fmt.Errorf("artifact cache write: %w", err)
	}
	return nil
}
