package citations

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Reference is one parsed entry of a paper's reference list.
type Reference struct {
	// Pos is the 1-based position in the parsed list.
	Pos int
	// Number is the printed enumeration, 0 when the entry is unnumbered.
	Number      int
	Raw         string
	Year        int
	FirstAuthor string
}

var (
	refEnum = regexp.MustCompile(`^\s*(?:\[(\d{1,3})\]|\((\d{1,3})\)|(\d{1,3})[.)])\s+`)
	yearRe  = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// ParseReferences splits reference-list lines into enumerated entries. Lines
// are tolerant of "[1]", "(1)", "1." and "1)" enumeration; when no line is
// enumerated, each line starts a new entry and lines beginning with a
// lowercase letter continue the previous one.
func ParseReferences(lines []string) []Reference {
	entries := assembleEntries(lines)
	refs := make([]Reference, 0, len(entries))
	for i, e := range entries {
		year := findYear(e.text)
		refs = append(refs, Reference{
			Pos:         i + 1,
			Number:      e.number,
			Raw:         e.text,
			Year:        year,
			FirstAuthor: firstAuthor(e.text, year),
		})
	}
	return refs
}

type rawEntry struct {
	number int
	text   string
}

func assembleEntries(lines []string) []rawEntry {
	numbered := false
	for _, ln := range lines {
		if refEnum.MatchString(ln) {
			numbered = true
			break
		}
	}
	var out []rawEntry
	var cur *rawEntry
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		if cur == nil && len(out) == 0 && isHeading(ln) {
			continue
		}
		if numbered {
			m := refEnum.FindStringSubmatch(ln)
			if m == nil {
				// Stray text before the first enumerated entry is page
				// furniture, not a reference.
				if cur == nil {
					continue
				}
				cur.text += " " + ln
				continue
			}
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &rawEntry{number: enumNumber(m), text: strings.TrimSpace(ln[len(m[0]):])}
			continue
		}
		if cur != nil && startsLower(ln) {
			cur.text += " " + ln
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &rawEntry{text: ln}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func enumNumber(m []string) int {
	for _, g := range m[1:] {
		if g != "" {
			n, _ := strconv.Atoi(g)
			return n
		}
	}
	return 0
}

func isHeading(ln string) bool {
	switch strings.TrimRight(strings.ToLower(ln), ":. ") {
	case "references", "bibliography", "works cited":
		return true
	}
	return false
}

func startsLower(s string) bool {
	r := []rune(s)
	return len(r) > 0 && unicode.IsLower(r[0])
}

func findYear(s string) int {
	match := yearRe.FindString(s)
	if match == "" {
		return 0
	}
	y, _ := strconv.Atoi(match)
	return y
}

// firstAuthor guesses the leading surname of an entry: the first token of at
// least two letters starting uppercase before the year.
func firstAuthor(raw string, year int) string {
	span := raw
	if year != 0 {
		if i := strings.Index(raw, strconv.Itoa(year)); i > 0 {
			span = raw[:i]
		}
	}
	for _, tok := range strings.FieldsFunc(span, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\t'
	}) {
		tok = strings.Trim(tok, ".()[]:&'\"")
		r := []rune(tok)
		if len(r) < 2 {
			continue
		}
		if unicode.IsUpper(r[0]) && unicode.IsLetter(r[1]) {
			return tok
		}
	}
	return ""
}

// TitleSpan guesses the title segment of a raw reference string: the longest
// sentence-like span with at least three words. Unresolved graph nodes use it
// as their display label.
func TitleSpan(raw string) string {
	best := ""
	for _, seg := range strings.Split(raw, ". ") {
		seg = strings.TrimSpace(seg)
		if len(strings.Fields(seg)) < 3 {
			continue
		}
		if len(seg) > len(best) {
			best = seg
		}
	}
	if best == "" {
		return strings.TrimSpace(raw)
	}
	return best
}
