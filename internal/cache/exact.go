package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sqlsage/sqlsage/internal/observability"
)

// Exact is the exact-match cache tier. TTLs are measured in minutes,
// not seconds: the tier targets the same question asked again within a
// session window.
type Exact struct {
	store  ExactStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewExact(store ExactStore, ttl time.Duration, logger *slog.Logger) *Exact {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Exact{store: store, ttl: ttl, logger: logger}
}

func (e *Exact) Get(ctx context.Context, query, partition string) (CachedResult, bool) {
	result, ok, err := e.store.Get(ctx, Key(query, partition))
	if err != nil {
		e.logger.Warn("exact cache get failed, treating as miss", "error", err)
		observability.ObserveCacheLookup("exact", "error")
		return CachedResult{}, false
	}
	if ok {
		observability.ObserveCacheLookup("exact", "hit")
	} else {
		observability.ObserveCacheLookup("exact", "miss")
	}
	return result, ok
}

func (e *Exact) Set(ctx context.Context, query, partition string, result CachedResult) {
	if err := e.store.Set(ctx, Key(query, partition), result, e.ttl); err != nil {
		e.logger.Warn("exact cache set failed, skipping", "error", err)
	}
}

type memoryEntry struct {
	result    CachedResult
	expiresAt time.Time
}

// MemoryStore is the in-process ExactStore. Expired entries are
// dropped lazily on read and swept when new entries land.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (CachedResult, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return CachedResult{}, false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return CachedResult{}, false, nil
	}
	return entry.result, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, result CachedResult, ttl time.Duration) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryEntry{result: result, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
