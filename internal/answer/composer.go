package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"litgraph/internal/models"
	"litgraph/internal/providers"
	"litgraph/internal/retrieve"
)

// InsufficientAnswerText is returned verbatim when retrieval produced no
// evidence. No provider call is made in that case.
const InsufficientAnswerText = "The corpus contains no indexed material relevant to this question, so no grounded answer can be given."

const (
	defaultTimeout = 60 * time.Second
	defaultBackoff = 2 * time.Second

	summarySectionLimit = 3
	summaryRuneLimit    = 2000
)

var errEmptyCompletion = errors.New("empty completion text")

// ClientError is a failed language-model call after the retry budget is
// spent. Kind carries the provider error classification.
type ClientError struct {
	Op   string
	Kind providers.ErrorType
	Err  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// Composer turns a retrieval result into a cited answer. Every provider call
// runs under a timeout and is retried once after a backoff when the failure
// looks recoverable.
type Composer struct {
	llm     providers.LLMProvider
	timeout time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

func NewComposer(llm providers.LLMProvider, timeout, backoff time.Duration, logger *zap.Logger) *Composer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{llm: llm, timeout: timeout, backoff: backoff, logger: logger}
}

// Answer composes a grounded reply to the question from the retrieval result.
// An empty result yields the insufficient-context record without calling the
// provider. The returned record lists the chunk ids behind the evidence
// blocks so the answer can be traced to source spans.
func (c *Composer) Answer(ctx context.Context, question string, res retrieve.Result) (models.AnswerRecord, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.AnswerRecord{}, fmt.Errorf("question is required")
	}
	if res.Empty() {
		return models.AnswerRecord{
			Text:       InsufficientAnswerText,
			Confidence: models.ConfidenceInsufficient,
			CreatedAt:  time.Now().UTC(),
		}, nil
	}

	evidence := make([]string, 0, len(res.Blocks))
	cited := make([]string, 0, len(res.Blocks))
	for i, b := range res.Blocks {
		evidence = append(evidence, evidenceLine(i, b))
		cited = append(cited, b.ChunkIDs...)
	}

	resp, info, err := c.generate(ctx, "rag_answer", askPrompt(question), evidence)
	if err != nil {
		return models.AnswerRecord{}, err
	}
	return models.AnswerRecord{
		Text:          strings.TrimSpace(resp.Text),
		CitedChunkIDs: cited,
		Confidence:    models.ConfidenceOK,
		Provider:      info.Name,
		Model:         info.Model,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Summarize produces the stored per-paper summary from the paper's abstract
// and leading sections, under the same timeout and retry rule as Answer.
func (c *Composer) Summarize(ctx context.Context, paper models.Paper) (models.PaperSummary, error) {
	evidence := summaryEvidence(paper)
	if len(evidence) == 0 {
		return models.PaperSummary{}, fmt.Errorf("paper %s has no text to summarize", paper.PaperID)
	}
	resp, info, err := c.generate(ctx, "paper_summary", summaryPrompt(paper), evidence)
	if err != nil {
		return models.PaperSummary{}, err
	}
	return models.PaperSummary{
		PaperID:   paper.PaperID,
		Summary:   strings.TrimSpace(resp.Text),
		Provider:  info.Name,
		Model:     info.Model,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Composer) generate(ctx context.Context, op, prompt string, evidence []string) (providers.GenerateResponse, providers.ProviderInfo, error) {
	resp, info, err := c.callOnce(ctx, op, prompt, evidence)
	if err == nil {
		return resp, info, nil
	}
	if !c.retryable(ctx, err) {
		return resp, info, &ClientError{Op: op, Kind: providers.ClassifyError(err), Err: err}
	}
	c.logger.Warn("llm call failed, retrying once",
		zap.String("operation", op),
		zap.String("kind", string(providers.ClassifyError(err))),
		zap.Error(err))
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return resp, info, &ClientError{Op: op, Kind: providers.ErrorContext, Err: ctx.Err()}
	}
	resp, info, err = c.callOnce(ctx, op, prompt, evidence)
	if err != nil {
		return resp, info, &ClientError{Op: op, Kind: providers.ClassifyError(err), Err: err}
	}
	return resp, info, nil
}

func (c *Composer) callOnce(ctx context.Context, op, prompt string, evidence []string) (providers.GenerateResponse, providers.ProviderInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, info, err := c.llm.Generate(callCtx, providers.GenerateRequest{
		Operation: op,
		Prompt:    prompt,
		Context:   evidence,
	})
	if err != nil {
		return resp, info, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return resp, info, errEmptyCompletion
	}
	return resp, info, nil
}

// retryable reports whether one more attempt is worth making. A per-call
// timeout is retried while the caller's context is still live; a dead caller
// context never is.
func (c *Composer) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errEmptyCompletion) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch providers.ClassifyError(err) {
	case providers.ErrorTransient, providers.ErrorRate, providers.ErrorQuota:
		return true
	}
	return false
}

func askPrompt(question string) string {
	return "" +
		"Question: " + question + "\n\n" +

		"You must answer using ONLY the provided evidence blocks.\n" +
		"Do NOT use outside knowledge.\n" +
		"If the blocks do not contain enough information, explicitly state what is missing.\n\n" +

		"Citation rules:\n" +
		"- Cite blocks like [C1], [C2] immediately after the sentence they support.\n" +
		"- Multiple citations may be combined like [C1][C3].\n" +
		"- Do NOT cite anything not present in the provided blocks.\n\n" +

		"Answer guidelines:\n" +
		"- Write a clear explanation in natural paragraphs.\n" +
		"- Be specific: include definitions, numbers, and limitations when available.\n" +
		"- If blocks conflict, explain the disagreement and cite both.\n\n" +

		"Evidence blocks (cite as [C#]):\n"
}

func summaryPrompt(p models.Paper) string {
	return "" +
		"Summarize the following research paper in 3-4 sentences.\n" +
		"State the problem, the approach, and the key result.\n" +
		"Use plain language and do not invent details absent from the provided text.\n\n" +

		"Title: " + p.Title + "\n"
}

func evidenceLine(i int, b retrieve.ContextBlock) string {
	label := b.Title
	if label == "" {
		label = b.PaperID
	}
	if b.Section != "" {
		label += " / " + b.Section
	}
	return fmt.Sprintf("C%d | %s: %s", i+1, label, b.Text)
}

func summaryEvidence(p models.Paper) []string {
	out := make([]string, 0, 1+summarySectionLimit)
	if abs := strings.TrimSpace(p.Abstract); abs != "" {
		out = append(out, "Abstract: "+truncateRunes(abs, summaryRuneLimit))
	}
	for _, s := range p.Sections {
		if len(out) >= 1+summarySectionLimit {
			break
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, s.Label+": "+truncateRunes(text, summaryRuneLimit))
	}
	return out
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
