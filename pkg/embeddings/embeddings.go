// Package embeddings declares the narrow boundary to external embedding and
// vector-search capabilities. The engine may call through these interfaces
// but never implements retrieval internals itself.
package embeddings

import "context"

// EmbeddingModel describes the model behind a provider.
type EmbeddingModel struct {
	Name       string
	Dimensions int
}

// Provider generates embedding vectors for text.
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GetModel() EmbeddingModel
}

// SearchResult is one hit from a semantic recall query.
type SearchResult struct {
	Text  string
	Score float32
}

// Searcher retrieves semantically similar prior content. Implemented by
// external vector stores; the core only consumes it.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
