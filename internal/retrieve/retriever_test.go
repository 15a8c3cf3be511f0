package retrieve

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"litgraph/internal/models"
	"litgraph/internal/vecindex"
)

type stubEmbedder struct {
	calls atomic.Int64
	err   error
}

func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubSearcher struct {
	hits  []models.ChunkHit
	count int
	err   error
}

func (s *stubSearcher) Search(ctx context.Context, vec []float32, topK int, scope vecindex.Scope) ([]models.ChunkHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if topK < len(s.hits) {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func (s *stubSearcher) CountInScope(ctx context.Context, scope vecindex.Scope) (int, error) {
	return s.count, nil
}

func TestRetrieveEmptyScopeIsNotAnError(t *testing.T) {
	embedder := &stubEmbedder{}
	r := New(embedder, &stubSearcher{count: 0}, 1000)

	res, err := r.Retrieve(context.Background(), vecindex.Scope{PaperIDs: []string{"unindexed"}}, "what is attention?", 5)
	require.NoError(t, err)
	require.True(t, res.Empty())
	require.Zero(t, embedder.calls.Load(), "no model call for an empty scope")
}

func TestRetrieveMergesAdjacentChunks(t *testing.T) {
	hits := []models.ChunkHit{
		{ChunkID: "p1-3", PaperID: "p1", Seq: 3, Text: "Attention maps queries to keys. The weights are softmaxed. ", Score: 0.91},
		{ChunkID: "p1-4", PaperID: "p1", Seq: 4, Text: "softmaxed. Multi-head variants project eight times.", Overlap: 11, Score: 0.88},
		{ChunkID: "p1-9", PaperID: "p1", Seq: 9, Text: "Positional encodings are sinusoidal.", Score: 0.52},
	}
	r := New(&stubEmbedder{}, &stubSearcher{hits: hits, count: 3}, 10000)

	res, err := r.Retrieve(context.Background(), vecindex.Scope{}, "how does attention work?", 5)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)

	merged := res.Blocks[0]
	require.Equal(t, []string{"p1-3", "p1-4"}, merged.ChunkIDs)
	require.Equal(t, "Attention maps queries to keys. The weights are softmaxed. Multi-head variants project eight times.", merged.Text)
	require.InDelta(t, 0.91, merged.Score, 1e-9)
	require.False(t, strings.Contains(merged.Text, "softmaxed. softmaxed."), "overlap text must not repeat")

	require.Equal(t, []string{"p1-9"}, res.Blocks[1].ChunkIDs)
}

func TestRetrieveTruncatesToBudgetKeepingBestBlocks(t *testing.T) {
	hits := []models.ChunkHit{
		{ChunkID: "a-1", PaperID: "a", Seq: 1, Text: strings.Repeat("x", 400), Score: 0.9},
		{ChunkID: "b-1", PaperID: "b", Seq: 1, Text: strings.Repeat("y", 400), Score: 0.8},
		{ChunkID: "c-1", PaperID: "c", Seq: 1, Text: strings.Repeat("z", 400), Score: 0.7},
	}
	r := New(&stubEmbedder{}, &stubSearcher{hits: hits, count: 3}, 900)

	res, err := r.Retrieve(context.Background(), vecindex.Scope{}, "question", 5)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2, "third block does not fit the budget")
	require.Equal(t, "a", res.Blocks[0].PaperID)
	require.Equal(t, "b", res.Blocks[1].PaperID)
}

func TestRetrieveTrimsOversizedTopBlock(t *testing.T) {
	hits := []models.ChunkHit{
		{ChunkID: "a-1", PaperID: "a", Seq: 1, Text: strings.Repeat("w", 5000), Score: 0.9},
	}
	r := New(&stubEmbedder{}, &stubSearcher{hits: hits, count: 1}, 1000)

	res, err := r.Retrieve(context.Background(), vecindex.Scope{}, "question", 5)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
	require.Len(t, []rune(res.Blocks[0].Text), 1000)
}

func TestRetrieveEmbedErrorPropagates(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("quota exhausted")}
	r := New(embedder, &stubSearcher{count: 2, hits: []models.ChunkHit{{ChunkID: "x"}}}, 1000)

	_, err := r.Retrieve(context.Background(), vecindex.Scope{}, "question", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "embed question")
}

func TestRetrieveRejectsEmptyQuestion(t *testing.T) {
	r := New(&stubEmbedder{}, &stubSearcher{}, 1000)
	_, err := r.Retrieve(context.Background(), vecindex.Scope{}, "   ", 5)
	require.Error(t, err)
}
