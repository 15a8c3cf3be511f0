package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litgraph/internal/models"
	"litgraph/internal/providers"
	"litgraph/internal/retrieve"
)

type stubReply struct {
	text  string
	err   error
	block bool
}

type stubLLM struct {
	mu     sync.Mutex
	calls  int
	reqs   []providers.GenerateRequest
	script []stubReply
}

func (s *stubLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.reqs = append(s.reqs, req)
	info := providers.ProviderInfo{Name: "stub", Model: "stub-chat"}
	if len(s.script) == 0 {
		return providers.GenerateResponse{Text: "Grounded answer [C1]."}, info, nil
	}
	r := s.script[0]
	s.script = s.script[1:]
	if r.block {
		<-ctx.Done()
		return providers.GenerateResponse{}, info, ctx.Err()
	}
	if r.err != nil {
		return providers.GenerateResponse{}, info, r.err
	}
	return providers.GenerateResponse{Text: r.text}, info, nil
}

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubLLM) lastReq() providers.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func twoBlockResult() retrieve.Result {
	return retrieve.Result{
		Hits: []models.ChunkHit{
			{ChunkID: "a", PaperID: "p1", Score: 0.9},
			{ChunkID: "b", PaperID: "p1", Score: 0.8},
			{ChunkID: "c", PaperID: "p2", Score: 0.7},
		},
		Blocks: []retrieve.ContextBlock{
			{PaperID: "p1", Title: "Attention Is All You Need", Section: "Introduction", ChunkIDs: []string{"a", "b"}, Text: "Attention replaces recurrence.", Score: 0.9},
			{PaperID: "p2", ChunkIDs: []string{"c"}, Text: "Pretraining improves transfer.", Score: 0.7},
		},
	}
}

func TestAnswerEmptyResultReturnsSentinelWithoutProviderCall(t *testing.T) {
	llm := &stubLLM{}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	rec, err := c.Answer(context.Background(), "what is attention?", retrieve.Result{})
	require.NoError(t, err)
	require.Equal(t, InsufficientAnswerText, rec.Text)
	require.Equal(t, models.ConfidenceInsufficient, rec.Confidence)
	require.Empty(t, rec.CitedChunkIDs)
	require.Equal(t, 0, llm.callCount(), "empty result must not reach the provider")
}

func TestAnswerRecordsCitedChunksAndEvidence(t *testing.T) {
	llm := &stubLLM{}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	rec, err := c.Answer(context.Background(), "what replaces recurrence?", twoBlockResult())
	require.NoError(t, err)
	require.Equal(t, "Grounded answer [C1].", rec.Text)
	require.Equal(t, []string{"a", "b", "c"}, rec.CitedChunkIDs)
	require.Equal(t, models.ConfidenceOK, rec.Confidence)
	require.Equal(t, "stub", rec.Provider)
	require.Equal(t, "stub-chat", rec.Model)

	req := llm.lastReq()
	require.Equal(t, "rag_answer", req.Operation)
	require.Contains(t, req.Prompt, "what replaces recurrence?")
	require.Contains(t, req.Prompt, "ONLY the provided evidence")
	require.Len(t, req.Context, 2)
	require.True(t, strings.HasPrefix(req.Context[0], "C1 | Attention Is All You Need / Introduction:"))
	require.True(t, strings.HasPrefix(req.Context[1], "C2 | p2:"), "untitled block falls back to paper id")
}

func TestAnswerRetriesRateLimitOnce(t *testing.T) {
	llm := &stubLLM{script: []stubReply{
		{err: errors.New("status 429: rate limited")},
		{text: "Recovered answer [C1]."},
	}}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	rec, err := c.Answer(context.Background(), "q", twoBlockResult())
	require.NoError(t, err)
	require.Equal(t, "Recovered answer [C1].", rec.Text)
	require.Equal(t, 2, llm.callCount())
}

func TestAnswerPermanentErrorNotRetried(t *testing.T) {
	llm := &stubLLM{script: []stubReply{
		{err: errors.New("invalid api key")},
	}}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	_, err := c.Answer(context.Background(), "q", twoBlockResult())
	require.Error(t, err)
	require.Equal(t, 1, llm.callCount())

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, providers.ErrorPermanent, ce.Kind)
	require.Equal(t, "rag_answer", ce.Op)
}

func TestAnswerEmptyCompletionRetriedThenSurfaced(t *testing.T) {
	llm := &stubLLM{script: []stubReply{
		{text: "   "},
		{text: ""},
	}}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	_, err := c.Answer(context.Background(), "q", twoBlockResult())
	require.Error(t, err)
	require.Equal(t, 2, llm.callCount())
	require.ErrorIs(t, err, errEmptyCompletion)
}

func TestAnswerTimeoutRetriedWhileCallerLive(t *testing.T) {
	llm := &stubLLM{script: []stubReply{
		{block: true},
		{text: "Late answer [C1]."},
	}}
	c := NewComposer(llm, 30*time.Millisecond, time.Millisecond, nil)

	rec, err := c.Answer(context.Background(), "q", twoBlockResult())
	require.NoError(t, err)
	require.Equal(t, "Late answer [C1].", rec.Text)
	require.Equal(t, 2, llm.callCount())
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	llm := &stubLLM{}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	_, err := c.Answer(context.Background(), "   ", twoBlockResult())
	require.Error(t, err)
	require.Equal(t, 0, llm.callCount())
}

func TestSummarizeUsesAbstractAndLeadingSections(t *testing.T) {
	llm := &stubLLM{script: []stubReply{{text: "A tidy summary."}}}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	paper := models.Paper{
		PaperID:  "p1",
		Title:    "Attention Is All You Need",
		Abstract: "We propose the Transformer.",
		Sections: []models.Section{
			{Label: "Introduction", Text: "Recurrent models are slow."},
			{Label: "Model", Text: "Self-attention layers."},
			{Label: "Results", Text: "State of the art BLEU."},
			{Label: "Conclusion", Text: "Attention suffices."},
		},
	}
	sum, err := c.Summarize(context.Background(), paper)
	require.NoError(t, err)
	require.Equal(t, "p1", sum.PaperID)
	require.Equal(t, "A tidy summary.", sum.Summary)
	require.Equal(t, "stub", sum.Provider)

	req := llm.lastReq()
	require.Equal(t, "paper_summary", req.Operation)
	require.Contains(t, req.Prompt, "Attention Is All You Need")
	require.Len(t, req.Context, 4, "abstract plus capped sections")
	require.True(t, strings.HasPrefix(req.Context[0], "Abstract:"))
}

func TestSummarizeRejectsPaperWithoutText(t *testing.T) {
	llm := &stubLLM{}
	c := NewComposer(llm, time.Second, time.Millisecond, nil)

	_, err := c.Summarize(context.Background(), models.Paper{PaperID: "p9", Title: "Empty"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no text to summarize")
	require.Equal(t, 0, llm.callCount())
}
