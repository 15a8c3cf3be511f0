package vecindex

import (
	"math"
	"sort"
	"sync"
)

// Entry is one indexed chunk vector.
type Entry struct {
	ChunkID string
	PaperID string
	Vector  []float32
}

// Hit is one scored query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	ChunkID string
	PaperID string
	Score   float64
}

// Scope restricts a query to a subset of the corpus. The zero value means the
// whole corpus; otherwise only the listed papers are searched.
type Scope struct {
	PaperIDs []string
}

func (s Scope) All() bool { return len(s.PaperIDs) == 0 }

func (s Scope) matches(paperID string) bool {
	if s.All() {
		return true
	}
	for _, id := range s.PaperIDs {
		if id == paperID {
			return true
		}
	}
	return false
}

// Index is an in-memory vector index over chunk embeddings. Upserts are
// atomic per chunk, queries run concurrently with writes, and equal scores
// are broken by insertion order (earlier insertion wins) so results are
// deterministic. Once DeletePaper returns, no later query observes the
// deleted chunks.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
	byChunk map[string]int
}

func New() *Index {
	return &Index{byChunk: make(map[string]int)}
}

// Upsert inserts or replaces one chunk vector. Replacing keeps the chunk's
// original insertion position, so tie-breaking stays stable across updates.
func (ix *Index) Upsert(chunkID, paperID string, vec []float32) {
	cp := make([]float32, len(vec))
	copy(cp, vec)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if pos, ok := ix.byChunk[chunkID]; ok {
		ix.entries[pos].PaperID = paperID
		ix.entries[pos].Vector = cp
		return
	}
	ix.entries = append(ix.entries, Entry{ChunkID: chunkID, PaperID: paperID, Vector: cp})
	ix.byChunk[chunkID] = len(ix.entries) - 1
}

// Query returns up to topK hits within scope, ordered by descending cosine
// similarity. Entries whose dimensionality does not match the query vector
// are skipped; they become visible again after an explicit Rebuild.
func (ix *Index) Query(vec []float32, topK int, scope Scope) []Hit {
	if topK <= 0 || len(vec) == 0 {
		return nil
	}
	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.entries))
	for _, e := range ix.entries {
		if !scope.matches(e.PaperID) {
			continue
		}
		if len(e.Vector) != len(vec) {
			continue
		}
		hits = append(hits, Hit{ChunkID: e.ChunkID, PaperID: e.PaperID, Score: Cosine(vec, e.Vector)})
	}
	ix.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// DeletePaper removes every chunk of the paper from the index.
func (ix *Index) DeletePaper(paperID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	kept := ix.entries[:0]
	for _, e := range ix.entries {
		if e.PaperID != paperID {
			kept = append(kept, e)
		}
	}
	ix.entries = kept
	ix.byChunk = make(map[string]int, len(kept))
	for i, e := range ix.entries {
		ix.byChunk[e.ChunkID] = i
	}
}

// Rebuild replaces the index contents wholesale. It is the only bulk
// mutation; embedding model changes go through here.
func (ix *Index) Rebuild(entries []Entry) {
	fresh := make([]Entry, 0, len(entries))
	byChunk := make(map[string]int, len(entries))
	for _, e := range entries {
		cp := make([]float32, len(e.Vector))
		copy(cp, e.Vector)
		if pos, ok := byChunk[e.ChunkID]; ok {
			fresh[pos] = Entry{ChunkID: e.ChunkID, PaperID: e.PaperID, Vector: cp}
			continue
		}
		fresh = append(fresh, Entry{ChunkID: e.ChunkID, PaperID: e.PaperID, Vector: cp})
		byChunk[e.ChunkID] = len(fresh) - 1
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = fresh
	ix.byChunk = byChunk
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Cosine computes cosine similarity between equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
