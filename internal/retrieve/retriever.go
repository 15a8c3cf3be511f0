package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"litgraph/internal/models"
	"litgraph/internal/vecindex"
)

// Embedder is the question-embedding capability; in production it is the
// embedding cache.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers vector queries with full chunk hits.
type Searcher interface {
	Search(ctx context.Context, vec []float32, topK int, scope vecindex.Scope) ([]models.ChunkHit, error)
}

// ScopeCounter is an optional Searcher refinement. When available, an empty
// scope is detected before any embedding work, so asking about an unindexed
// paper costs no model calls at all.
type ScopeCounter interface {
	CountInScope(ctx context.Context, scope vecindex.Scope) (int, error)
}

// ContextBlock is a merged run of adjacent chunks from one paper, with
// duplicated overlap text removed.
type ContextBlock struct {
	PaperID  string   `json:"paper_id"`
	Title    string   `json:"title,omitempty"`
	Section  string   `json:"section,omitempty"`
	ChunkIDs []string `json:"chunk_ids"`
	Text     string   `json:"text"`
	Score    float64  `json:"score"`
}

// Result is an ordered retrieval outcome. Hits carry non-increasing scores;
// Blocks is the assembled context. An empty Result is a valid state, not an
// error.
type Result struct {
	Hits   []models.ChunkHit `json:"hits"`
	Blocks []ContextBlock    `json:"blocks"`
}

func (r Result) Empty() bool { return len(r.Hits) == 0 }

type Retriever struct {
	embedder      Embedder
	searcher      Searcher
	contextBudget int
}

func New(embedder Embedder, searcher Searcher, contextBudget int) *Retriever {
	if contextBudget <= 0 {
		contextBudget = 6000
	}
	return &Retriever{embedder: embedder, searcher: searcher, contextBudget: contextBudget}
}

// Retrieve embeds the question, queries the index within scope, and
// assembles a context window: adjacent chunks of the same paper merge into
// one block, and the total context is truncated to the budget keeping the
// highest-scoring blocks.
func (r *Retriever) Retrieve(ctx context.Context, scope vecindex.Scope, question string, topK int) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{}, fmt.Errorf("empty question")
	}
	if topK <= 0 {
		topK = 8
	}
	if counter, ok := r.searcher.(ScopeCounter); ok {
		n, err := counter.CountInScope(ctx, scope)
		if err != nil {
			return Result{}, fmt.Errorf("count scope: %w", err)
		}
		if n == 0 {
			return Result{}, nil
		}
	}

	qvec, err := r.embedder.EmbedOne(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}
	hits, err := r.searcher.Search(ctx, qvec, topK, scope)
	if err != nil {
		return Result{}, fmt.Errorf("search chunks: %w", err)
	}
	if len(hits) == 0 {
		return Result{}, nil
	}

	blocks := assembleBlocks(hits)
	blocks = truncateBlocks(blocks, r.contextBudget)
	return Result{Hits: hits, Blocks: blocks}, nil
}

// assembleBlocks groups hits by paper, orders each group by sequence, and
// merges runs of adjacent chunks, stripping each follower's overlap prefix so
// the prompt never repeats text.
func assembleBlocks(hits []models.ChunkHit) []ContextBlock {
	byPaper := make(map[string][]models.ChunkHit)
	order := make([]string, 0)
	for _, h := range hits {
		if _, ok := byPaper[h.PaperID]; !ok {
			order = append(order, h.PaperID)
		}
		byPaper[h.PaperID] = append(byPaper[h.PaperID], h)
	}

	blocks := make([]ContextBlock, 0, len(hits))
	for _, paperID := range order {
		group := byPaper[paperID]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Seq < group[j].Seq })

		var cur *ContextBlock
		lastSeq := 0
		for _, h := range group {
			if cur != nil && h.Seq == lastSeq+1 {
				text := []rune(h.Text)
				if h.Overlap > 0 && h.Overlap <= len(text) {
					text = text[h.Overlap:]
				}
				cur.Text += string(text)
				cur.ChunkIDs = append(cur.ChunkIDs, h.ChunkID)
				if h.Score > cur.Score {
					cur.Score = h.Score
				}
				lastSeq = h.Seq
				continue
			}
			if cur != nil {
				blocks = append(blocks, *cur)
			}
			cur = &ContextBlock{
				PaperID:  h.PaperID,
				Title:    h.Title,
				Section:  h.Section,
				ChunkIDs: []string{h.ChunkID},
				Text:     h.Text,
				Score:    h.Score,
			}
			lastSeq = h.Seq
		}
		if cur != nil {
			blocks = append(blocks, *cur)
		}
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Score != blocks[j].Score {
			return blocks[i].Score > blocks[j].Score
		}
		return blocks[i].PaperID < blocks[j].PaperID
	})
	return blocks
}

// truncateBlocks keeps whole blocks in score order until the budget runs
// out. The first block is always kept, hard-trimmed if it alone exceeds the
// budget.
func truncateBlocks(blocks []ContextBlock, budget int) []ContextBlock {
	out := make([]ContextBlock, 0, len(blocks))
	used := 0
	for i, b := range blocks {
		n := len([]rune(b.Text))
		if i == 0 && n > budget {
			b.Text = string([]rune(b.Text)[:budget])
			out = append(out, b)
			break
		}
		if used+n > budget {
			break
		}
		used += n
		out = append(out, b)
	}
	return out
}
