package embed

import (
	"context"
	"fmt"

	"litgraph/internal/providers"
)

// ProviderEmbedder adapts a provider to the Embedder interface under a fixed
// logical model id. The model id is what cache keys and chunk rows carry, so
// switching models invalidates cached vectors naturally.
type ProviderEmbedder struct {
	provider providers.EmbeddingProvider
	modelID  string
	dim      int
}

func NewProviderEmbedder(p providers.EmbeddingProvider, modelID string, dim int) *ProviderEmbedder {
	return &ProviderEmbedder{provider: p, modelID: modelID, dim: dim}
}

func (e *ProviderEmbedder) ModelID() string {
	return e.modelID
}

func (e *ProviderEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out, _, err := e.provider.Embed(ctx, providers.EmbedRequest{
		Operation: "embed",
		Inputs:    texts,
		Dimension: e.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d inputs: %w", len(texts), err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(out), len(texts))
	}
	return out, nil
}
