package llm

import "context"

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the fixed shape every model adapter returns: the raw text plus
// the token usage the provider reported (0 when unknown).
type Reply struct {
	Text       string
	TokensUsed int
}

// Model is the language-model port. Retry and concurrency limiting are
// layered on top by the caller; adapters do a single round trip.
type Model interface {
	Invoke(ctx context.Context, messages []Message) (Reply, error)
}

// Embedder turns text into a fixed-size vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
