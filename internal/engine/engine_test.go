package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"litgraph/internal/answer"
	"litgraph/internal/models"
	"litgraph/internal/providers"
)

// countingProvider wraps the mock so tests can assert how many model calls a
// path really made.
type countingProvider struct {
	inner *providers.MockProvider

	mu        sync.Mutex
	embeds    int
	generates int
}

func (c *countingProvider) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	c.mu.Lock()
	c.embeds++
	c.mu.Unlock()
	return c.inner.Embed(ctx, req)
}

func (c *countingProvider) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	c.mu.Lock()
	c.generates++
	c.mu.Unlock()
	return c.inner.Generate(ctx, req)
}

func (c *countingProvider) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embeds, c.generates
}

func testOptions() Options {
	return Options{
		EmbedModel:        "mock-embed",
		EmbedDim:          32,
		ChunkBudget:       400,
		ChunkOverlap:      80,
		ContextBudget:     4000,
		TopK:              5,
		ResolveThreshold:  0.8,
		FoundationalYears: 10,
	}
}

func datePtr(year int) *time.Time {
	t := time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func paperA() models.Paper {
	return models.Paper{
		PaperID:     "p-a",
		Title:       "Attention Is All You Need",
		PublishedAt: datePtr(2017),
		Abstract:    "We propose the transformer, a network architecture based entirely on attention mechanisms.",
		Sections: []models.Section{
			{Label: "Introduction", Text: "Recurrent models factor computation along symbol positions. Attention allows modeling of dependencies without regard to their distance."},
		},
	}
}

func paperB() models.Paper {
	return models.Paper{
		PaperID:     "p-b",
		Title:       "Fine Tuning Encoders For Dense Retrieval",
		PublishedAt: datePtr(2021),
		Abstract:    "We adapt pretrained encoders for dense passage retrieval tasks.",
		Sections: []models.Section{
			{Label: "Method", Text: "Our approach builds directly on the transformer architecture [1]. The loss design follows earlier spectral work [2]."},
		},
		ReferencesRaw: []string{
			"[1] Vaswani, Shazeer, Parmar. Attention Is All You Need. 2017.",
			"[2] Quiet Legacy Notes About Spectral Filtering. 1999.",
		},
	}
}

func TestEngineEndToEndCitationGraph(t *testing.T) {
	mock := providers.NewMockProvider(32)
	eng := New(mock, mock, testOptions(), zap.NewNop())
	ctx := context.Background()

	statsA, err := eng.IngestPaper(ctx, paperA())
	require.NoError(t, err)
	require.Greater(t, statsA.Chunks, 0)
	require.Zero(t, statsA.NewEdges)

	statsB, err := eng.IngestPaper(ctx, paperB())
	require.NoError(t, err)
	require.Equal(t, 2, statsB.NewEdges)
	require.Equal(t, 1, statsB.Unresolved)
	require.Empty(t, statsB.DroppedMarkers)

	snap := eng.Queries().Snapshot()
	require.Len(t, snap.Nodes, 3)
	require.Len(t, snap.Edges, 2)

	view, err := eng.Queries().Neighborhood("p-b", 1)
	require.NoError(t, err)
	require.Len(t, view.Nodes, 3, "citing paper plus both cited targets")

	ids := make(map[string]bool, 3)
	unresolvedID := ""
	for _, n := range view.Nodes {
		ids[n.ID] = true
		if !n.Resolved {
			unresolvedID = n.ID
		}
	}
	require.True(t, ids["p-a"])
	require.True(t, ids["p-b"])
	require.NotEmpty(t, unresolvedID)

	targets := make(map[string]bool, 2)
	for _, e := range view.Edges {
		require.Equal(t, "p-b", e.From)
		targets[e.To] = true
	}
	require.True(t, targets["p-a"])
	require.True(t, targets[unresolvedID])
}

func TestEngineAskScopedAnswersFromEvidence(t *testing.T) {
	mock := providers.NewMockProvider(32)
	eng := New(mock, mock, testOptions(), zap.NewNop())
	ctx := context.Background()

	_, err := eng.IngestPaper(ctx, paperA())
	require.NoError(t, err)

	rec, res, err := eng.Ask(ctx, "What is the transformer based on?", []string{"p-a"}, 5)
	require.NoError(t, err)
	require.False(t, res.Empty())
	require.Equal(t, models.ConfidenceOK, rec.Confidence)
	require.Contains(t, rec.Text, "[C1]")
	require.Equal(t, "mock", rec.Provider)
	require.NotEmpty(t, rec.CitedChunkIDs)

	indexed := make(map[string]bool)
	for _, b := range res.Blocks {
		for _, id := range b.ChunkIDs {
			indexed[id] = true
		}
	}
	for _, id := range rec.CitedChunkIDs {
		require.True(t, indexed[id], "cited chunk %s must come from the evidence", id)
	}
}

func TestEngineAskUnindexedPaperSentinelZeroModelCalls(t *testing.T) {
	counting := &countingProvider{inner: providers.NewMockProvider(32)}
	eng := New(counting, counting, testOptions(), zap.NewNop())
	ctx := context.Background()

	_, err := eng.IngestPaper(ctx, paperA())
	require.NoError(t, err)
	embedsBefore, generatesBefore := counting.counts()

	rec, res, err := eng.Ask(ctx, "What does the ghost paper say?", []string{"ghost"}, 5)
	require.NoError(t, err)
	require.True(t, res.Empty())
	require.Equal(t, answer.InsufficientAnswerText, rec.Text)
	require.Equal(t, models.ConfidenceInsufficient, rec.Confidence)

	embedsAfter, generatesAfter := counting.counts()
	require.Equal(t, embedsBefore, embedsAfter, "asking over an unindexed paper must not embed")
	require.Equal(t, generatesBefore, generatesAfter, "asking over an unindexed paper must not call the llm")
}

func TestEngineRemovePaperHidesItsChunks(t *testing.T) {
	mock := providers.NewMockProvider(32)
	eng := New(mock, mock, testOptions(), zap.NewNop())
	ctx := context.Background()

	_, err := eng.IngestPaper(ctx, paperA())
	require.NoError(t, err)
	_, res, err := eng.Ask(ctx, "What is attention?", []string{"p-a"}, 5)
	require.NoError(t, err)
	require.False(t, res.Empty())

	eng.RemovePaper("p-a")

	rec, res, err := eng.Ask(ctx, "What is attention?", []string{"p-a"}, 5)
	require.NoError(t, err)
	require.True(t, res.Empty())
	require.Equal(t, models.ConfidenceInsufficient, rec.Confidence)
	require.Empty(t, eng.Queries().Snapshot().Nodes)
}

func TestEngineReindexRebuildsWholesale(t *testing.T) {
	mock := providers.NewMockProvider(32)
	eng := New(mock, mock, testOptions(), zap.NewNop())
	ctx := context.Background()

	_, err := eng.IngestPaper(ctx, paperA())
	require.NoError(t, err)
	_, err = eng.IngestPaper(ctx, paperB())
	require.NoError(t, err)

	require.NoError(t, eng.Reindex(ctx))

	for _, id := range []string{"p-a", "p-b"} {
		_, res, err := eng.Ask(ctx, "What does this paper contribute?", []string{id}, 3)
		require.NoError(t, err)
		require.False(t, res.Empty(), "paper %s must stay queryable after reindex", id)
	}
}
