package cache

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/sqlsage/sqlsage/internal/llm"
	"github.com/sqlsage/sqlsage/internal/observability"
)

type semanticEntry struct {
	ID        string
	Partition string
	Query     string
	Vector    []float32
	Result    CachedResult
}

// Semantic matches paraphrased questions by embedding similarity. The
// threshold is deliberately conservative: a false hit returns a wrong
// answer, not a stale one. Entries have no TTL; eviction belongs to
// whoever persists the snapshot.
type Semantic struct {
	embedder  llm.Embedder
	threshold float64
	logger    *slog.Logger

	mu      sync.RWMutex
	entries []semanticEntry
}

func NewSemantic(embedder llm.Embedder, threshold float64, logger *slog.Logger) *Semantic {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.95
	}
	return &Semantic{embedder: embedder, threshold: threshold, logger: logger}
}

// Search returns the stored answer whose question embedding is most
// similar to query, if that similarity reaches the threshold. Embedding
// failures are a miss.
func (s *Semantic) Search(ctx context.Context, query, partition string) (CachedResult, bool) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("semantic cache embedding failed, treating as miss", "error", err)
		observability.ObserveCacheLookup("semantic", "error")
		return CachedResult{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1.0
	var bestResult CachedResult
	for _, entry := range s.entries {
		if entry.Partition != partition {
			continue
		}
		score := cosineSimilarity(vector, entry.Vector)
		if score > best {
			best = score
			bestResult = entry.Result
		}
	}
	if best < s.threshold {
		observability.ObserveCacheLookup("semantic", "miss")
		return CachedResult{}, false
	}
	bestResult.Similarity = best
	observability.ObserveCacheLookup("semantic", "hit")
	return bestResult, true
}

// Save embeds the question and stores the answer. Failures are logged
// and swallowed; a semantic-cache outage never fails the query.
func (s *Semantic) Save(ctx context.Context, query, partition string, result CachedResult) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("semantic cache save failed, skipping", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, semanticEntry{
		ID:        uuid.NewString(),
		Partition: partition,
		Query:     query,
		Vector:    vector,
		Result:    result,
	})
}

func (s *Semantic) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
