package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultBudget  = 1000
	DefaultOverlap = 200
)

// Piece is one chunk cut from a single section. Overlap counts the leading
// runes duplicated from the previous piece so the original text can be
// reconstructed exactly.
type Piece struct {
	Text    string
	Section string
	Overlap int
}

// Chunk splits section text into sentence-aligned pieces. Sentences are
// packed greedily up to budget runes; each following piece re-opens overlap
// runes of the previous one for cross-boundary context. The budget is a soft
// cap: a single sentence longer than it is kept whole, never cut mid-word.
// Empty or whitespace-only input yields nil.
func Chunk(text, section string, budget, overlap int) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	if overlap < 0 || overlap >= budget {
		overlap = 0
	}

	sentences := SplitSentences(text)
	pieces := make([]Piece, 0, len(sentences)/3+1)
	var cur []rune
	curOverlap := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		pieces = append(pieces, Piece{Text: string(cur), Section: section, Overlap: curOverlap})
		cur = nil
		curOverlap = 0
	}

	for _, s := range sentences {
		sr := []rune(s)
		if len(cur) > 0 && len(cur)+len(sr) > budget {
			prev := cur
			prevOverlap := curOverlap
			flush()
			tail := overlap
			// Never re-duplicate a previous piece's own overlap prefix,
			// otherwise reconstruction would repeat text.
			if max := len(prev) - prevOverlap; tail > max {
				tail = max
			}
			if tail > 0 {
				cur = append(cur, prev[len(prev)-tail:]...)
				curOverlap = tail
			}
		}
		cur = append(cur, sr...)
	}
	flush()
	return pieces
}

// Reconstruct joins pieces back into the original section text by dropping
// each piece's duplicated overlap prefix.
func Reconstruct(pieces []Piece) string {
	var b strings.Builder
	for _, p := range pieces {
		r := []rune(p.Text)
		if p.Overlap > 0 && p.Overlap <= len(r) {
			r = r[p.Overlap:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}

// Words that end with a period without ending a sentence. Lowercased,
// trailing period stripped.
var abbreviations = map[string]struct{}{
	"al": {}, "cf": {}, "eq": {}, "eqs": {}, "etc": {}, "fig": {}, "figs": {},
	"no": {}, "pp": {}, "prof": {}, "ref": {}, "refs": {}, "sec": {},
	"vol": {}, "vs": {},
}

// SplitSentences partitions text into sentence spans. The concatenation of
// the returned spans is exactly the input: trailing whitespace stays attached
// to the sentence it follows. Terminators inside abbreviations, initials, and
// decimals do not split.
func SplitSentences(text string) []string {
	runes := []rune(text)
	out := make([]string, 0, 8)
	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			j := i + 1
			for j < len(runes) && isCloser(runes[j]) {
				j++
			}
			if isBoundary(runes, start, i, j) {
				for j < len(runes) && unicode.IsSpace(runes[j]) {
					j++
				}
				out = append(out, string(runes[start:j]))
				start = j
				i = j
				continue
			}
		}
		i++
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isCloser(r rune) bool {
	return r == ')' || r == ']' || r == '"' || r == '\'' || r == '”' || r == '’'
}

func isBoundary(runes []rune, start, term, after int) bool {
	// A sentence end must be followed by whitespace or end of text; this also
	// rejects decimals and dotted acronyms.
	if after < len(runes) && !unicode.IsSpace(runes[after]) {
		return false
	}
	if runes[term] == '.' {
		w := precedingWord(runes, start, term)
		if len(w) == 1 {
			// Single-letter initials: "J. Smith".
			return false
		}
		if _, ok := abbreviations[strings.ToLower(w)]; ok {
			return false
		}
	}
	k := after
	for k < len(runes) && unicode.IsSpace(runes[k]) {
		k++
	}
	if k >= len(runes) {
		return true
	}
	r := runes[k]
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '(' || r == '[' || r == '"' || r == '“'
}

func precedingWord(runes []rune, start, term int) string {
	end := term
	i := term - 1
	for i >= start && unicode.IsLetter(runes[i]) {
		i--
	}
	return string(runes[i+1 : end])
}
