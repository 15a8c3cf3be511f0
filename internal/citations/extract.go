package citations

import (
	"strings"

	"litgraph/internal/models"
)

// RawEdge is one unresolved citation from the citing paper to a reference
// entry. Resolution to a known paper id happens in the graph builder, never
// here.
type RawEdge struct {
	CitingPaperID string
	RawRef        string
	Markers       []string
	Confidence    float64
	LowConfidence bool
}

// Report carries extraction side notes. Dropped markers matched no reference
// entry; ambiguous markers matched several and were attached to the earliest.
type Report struct {
	DroppedMarkers   []string
	AmbiguousMarkers []string
}

const (
	confidenceListed = 0.5
	confidenceCited  = 0.9
)

// Extract parses the paper's reference list and scans its body for citation
// markers. Every reference entry yields exactly one edge; markers raise the
// edge's confidence when they map to it. Markers that map to nothing are
// dropped into the report, never an error.
func Extract(paper models.Paper) ([]RawEdge, Report) {
	refs := ParseReferences(paper.ReferencesRaw)
	if len(refs) == 0 {
		return nil, Report{}
	}
	numbered := false
	for _, r := range refs {
		if r.Number > 0 {
			numbered = true
			break
		}
	}

	edges := make([]RawEdge, len(refs))
	for i, r := range refs {
		edges[i] = RawEdge{
			CitingPaperID: paper.PaperID,
			RawRef:        r.Raw,
			Confidence:    confidenceListed,
		}
	}

	var rep Report
	for _, m := range ScanMarkers(bodyText(paper)) {
		idx, ambiguous, ok := matchMarker(m, refs, numbered)
		if !ok {
			rep.DroppedMarkers = append(rep.DroppedMarkers, m.Text)
			continue
		}
		e := &edges[idx]
		if !containsString(e.Markers, m.Text) {
			e.Markers = append(e.Markers, m.Text)
		}
		e.Confidence = confidenceCited
		if ambiguous {
			e.LowConfidence = true
			rep.AmbiguousMarkers = append(rep.AmbiguousMarkers, m.Text)
		}
	}
	return edges, rep
}

// matchMarker maps one marker occurrence to a reference entry. Numeric
// markers map by printed number, or by list position when no entry carries a
// printed number. Author-year markers map by surname containment plus year;
// several matches prefer an exact first-author hit, then the earliest entry
// with an ambiguity flag.
func matchMarker(m Marker, refs []Reference, numbered bool) (int, bool, bool) {
	if m.Num > 0 {
		for i, r := range refs {
			if r.Number == m.Num {
				return i, false, true
			}
		}
		if !numbered && m.Num <= len(refs) {
			return m.Num - 1, false, true
		}
		return 0, false, false
	}

	var matches []int
	lowerSurname := strings.ToLower(m.Surname)
	for i, r := range refs {
		if r.Year == m.Year && strings.Contains(strings.ToLower(r.Raw), lowerSurname) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return 0, false, false
	}
	if len(matches) == 1 {
		return matches[0], false, true
	}
	var exact []int
	for _, i := range matches {
		if strings.EqualFold(refs[i].FirstAuthor, m.Surname) {
			exact = append(exact, i)
		}
	}
	if len(exact) == 1 {
		return exact[0], false, true
	}
	if len(exact) > 1 {
		return exact[0], true, true
	}
	return matches[0], true, true
}

func bodyText(paper models.Paper) string {
	parts := make([]string, 0, 1+len(paper.Sections))
	if paper.Abstract != "" {
		parts = append(parts, paper.Abstract)
	}
	for _, s := range paper.Sections {
		if isHeading(s.Label) {
			continue
		}
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
