package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// wordEmbedder maps known phrases to fixed vectors so similarity is
// fully deterministic in tests.
type wordEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if vector, ok := e.vectors[text]; ok {
		return vector, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestSemanticSaveThenSearch(t *testing.T) {
	embedder := &wordEmbedder{vectors: map[string][]float32{
		"how many orders":    {1, 0, 0},
		"number of orders":   {0.99, 0.1, 0},
		"revenue last month": {0, 1, 0},
	}}
	semantic := NewSemantic(embedder, 0.95, nil)
	ctx := context.Background()

	semantic.Save(ctx, "how many orders", "public", CachedResult{Response: "42 orders", SQL: "SELECT 1;"})

	hit, ok := semantic.Search(ctx, "number of orders", "public")
	if !ok {
		t.Fatal("paraphrase above threshold must hit")
	}
	if hit.Response != "42 orders" {
		t.Fatalf("hit = %#v", hit)
	}
	if hit.Similarity < 0.95 {
		t.Fatalf("Similarity = %f", hit.Similarity)
	}

	if _, ok := semantic.Search(ctx, "revenue last month", "public"); ok {
		t.Fatal("unrelated question must miss")
	}
}

func TestSemanticBelowThresholdMisses(t *testing.T) {
	embedder := &wordEmbedder{vectors: map[string][]float32{
		"original": {1, 0, 0},
		"близко":   {0.97, 0.2, 0.1},
	}}
	semantic := NewSemantic(embedder, 0.9999, nil)
	ctx := context.Background()

	semantic.Save(ctx, "original", "public", CachedResult{Response: "r"})
	if _, ok := semantic.Search(ctx, "близко", "public"); ok {
		t.Fatal("near-duplicate below a 1-epsilon threshold must miss")
	}
}

func TestSemanticPartitionIsolation(t *testing.T) {
	embedder := &wordEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	semantic := NewSemantic(embedder, 0.95, nil)
	ctx := context.Background()

	semantic.Save(ctx, "q", "acme", CachedResult{Response: "acme answer"})
	if _, ok := semantic.Search(ctx, "q", "globex"); ok {
		t.Fatal("hit must not cross partitions")
	}
}

func TestSemanticFailsOpenOnEmbedderError(t *testing.T) {
	semantic := NewSemantic(&wordEmbedder{err: errors.New("embeddings down")}, 0.95, nil)
	ctx := context.Background()

	if _, ok := semantic.Search(ctx, "q", "public"); ok {
		t.Fatal("embedder outage must read as a miss")
	}
	semantic.Save(ctx, "q", "public", CachedResult{Response: "r"})
	if semantic.Len() != 0 {
		t.Fatal("failed save must not add an entry")
	}
}

func TestSemanticSnapshotRoundTrip(t *testing.T) {
	embedder := &wordEmbedder{vectors: map[string][]float32{"how many orders": {1, 0, 0}}}
	semantic := NewSemantic(embedder, 0.95, nil)
	ctx := context.Background()

	semantic.Save(ctx, "how many orders", "public", CachedResult{
		Response:   "42 orders",
		SQL:        `SELECT COUNT(*) FROM "public"."orders";`,
		TablesUsed: []string{"orders"},
		TokenCost:  21,
	})

	path := filepath.Join(t.TempDir(), "snapshots", "semantic.parquet")
	if err := semantic.WriteSnapshot(path); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}

	restored := NewSemantic(embedder, 0.95, nil)
	if err := restored.RestoreSnapshot(path); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("restored.Len() = %d", restored.Len())
	}

	hit, ok := restored.Search(ctx, "how many orders", "public")
	if !ok {
		t.Fatal("restored cache must serve the original entry")
	}
	if hit.SQL != `SELECT COUNT(*) FROM "public"."orders";` || hit.TokenCost != 21 {
		t.Fatalf("hit = %#v", hit)
	}
}

func TestRestoreSnapshotMissingFile(t *testing.T) {
	semantic := NewSemantic(&wordEmbedder{}, 0.95, nil)
	if err := semantic.RestoreSnapshot(filepath.Join(t.TempDir(), "missing.parquet")); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
}
