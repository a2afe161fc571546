// Package cache holds the two answer caches in front of the pipeline:
// an exact tier keyed by a digest of the normalized question and a
// semantic tier keyed by embedding similarity. Both tiers fail open; a
// cache backend outage turns into a miss, never into a failed query.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CachedResult is the answer payload both tiers store and return.
type CachedResult struct {
	Response   string   `json:"response"`
	SQL        string   `json:"sql"`
	TablesUsed []string `json:"tables_used,omitempty"`
	TokenCost  int      `json:"token_cost"`
	Similarity float64  `json:"-"`
}

// Key derives the fixed-width exact-cache key from the partition and
// the lowercased, trimmed question text.
func Key(query, partition string) string {
	normalized := partition + ":" + strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ExactStore is the backing store of the exact tier.
type ExactStore interface {
	Get(ctx context.Context, key string) (CachedResult, bool, error)
	Set(ctx context.Context, key string, result CachedResult, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
