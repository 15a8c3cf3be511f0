package graph

import (
	"regexp"
	"sort"
	"strings"

	"litgraph/internal/citations"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)
	ws       = regexp.MustCompile(`\s+`)
)

// CanonicalKey lowercases, strips punctuation and collapses whitespace so
// differently formatted mentions of one work share a key.
func CanonicalKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, " ")
	s = ws.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// refKey names the unresolved node for a raw reference. The prefix keeps
// unresolved keys out of the paper-id namespace.
func refKey(raw string) string { return "ref:" + CanonicalKey(raw) }

type paperEntry struct {
	id     string
	tokens []string
}

func titleTokens(title string) []string {
	fields := strings.Fields(CanonicalKey(title))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 || isDigits(f) {
			tokens = append(tokens, f)
		}
	}
	if len(tokens) == 0 {
		return fields
	}
	return tokens
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// containment scores how much of a candidate title appears in the raw
// reference: matched title tokens over total title tokens.
func containment(tokens []string, raw string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	set := make(map[string]struct{})
	for _, f := range strings.Fields(CanonicalKey(raw)) {
		set[f] = struct{}{}
	}
	matched := 0
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// resolveTarget finds the known paper whose title is contained in the raw
// reference at or above the threshold. Best score wins; id order breaks ties.
func resolveTarget(raw string, papers map[string]paperEntry, threshold float64) (string, float64, bool) {
	ids := make([]string, 0, len(papers))
	for id := range papers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bestID, bestScore := "", 0.0
	for _, id := range ids {
		score := containment(papers[id].tokens, raw)
		if score > bestScore {
			bestID, bestScore = id, score
		}
	}
	if bestID == "" || bestScore < threshold {
		return "", 0, false
	}
	return bestID, bestScore, true
}

// unresolvedLabel is the display label for an external work.
func unresolvedLabel(raw string) string {
	return citations.TitleSpan(raw)
}
