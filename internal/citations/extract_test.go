package citations

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"litgraph/internal/models"
)

func numberedPaper(n int) models.Paper {
	lines := []string{"References"}
	var body strings.Builder
	for i := 1; i <= n; i++ {
		lines = append(lines, fmt.Sprintf("[%d] Author%d, A. Paper title number %d. Venue, %d.", i, i, i, 2000+i))
		fmt.Fprintf(&body, "Claim %d is supported [%d]. ", i, i)
	}
	return models.Paper{
		PaperID:       "p-cite",
		Title:         "Citing Paper",
		Sections:      []models.Section{{Label: "Body", Text: body.String()}},
		ReferencesRaw: lines,
	}
}

func TestExtractOneEdgePerEntryNoDuplicates(t *testing.T) {
	edges, rep := Extract(numberedPaper(10))
	require.Len(t, edges, 10)
	require.Empty(t, rep.DroppedMarkers)
	require.Empty(t, rep.AmbiguousMarkers)

	seen := make(map[string]bool, len(edges))
	for i, e := range edges {
		require.Equal(t, "p-cite", e.CitingPaperID)
		require.False(t, seen[e.RawRef], "duplicate edge for %q", e.RawRef)
		seen[e.RawRef] = true
		require.Equal(t, []string{fmt.Sprintf("[%d]", i+1)}, e.Markers)
		require.Equal(t, confidenceCited, e.Confidence)
		require.False(t, e.LowConfidence)
	}
}

func TestExtractEntryWithoutMarkerKeptAtListedConfidence(t *testing.T) {
	p := numberedPaper(3)
	p.Sections[0].Text = "Only the first matters [1]."
	edges, _ := Extract(p)
	require.Len(t, edges, 3)
	require.Equal(t, confidenceCited, edges[0].Confidence)
	require.Equal(t, confidenceListed, edges[1].Confidence)
	require.Empty(t, edges[1].Markers)
	require.Equal(t, confidenceListed, edges[2].Confidence)
}

func TestExtractRangeMarkerAttachesToEachTarget(t *testing.T) {
	p := numberedPaper(5)
	p.Sections[0].Text = "Prior work [2-4] explored this."
	edges, _ := Extract(p)
	for _, i := range []int{1, 2, 3} {
		require.Equal(t, []string{"[2-4]"}, edges[i].Markers)
		require.Equal(t, confidenceCited, edges[i].Confidence)
	}
	require.Empty(t, edges[0].Markers)
	require.Empty(t, edges[4].Markers)
}

func TestExtractAuthorYearParenthetical(t *testing.T) {
	p := models.Paper{
		PaperID: "p1",
		Sections: []models.Section{
			{Label: "Intro", Text: "The Transformer (Vaswani et al., 2017) changed the field."},
		},
		ReferencesRaw: []string{
			"[1] Vaswani, A., Shazeer, N., et al. Attention is all you need. NeurIPS, 2017.",
			"[2] Devlin, J. BERT pretraining. NAACL, 2019.",
		},
	}
	edges, rep := Extract(p)
	require.Len(t, edges, 2)
	require.Equal(t, []string{"(Vaswani et al., 2017)"}, edges[0].Markers)
	require.Equal(t, confidenceCited, edges[0].Confidence)
	require.Empty(t, edges[1].Markers)
	require.Empty(t, rep.DroppedMarkers)
}

func TestExtractAmbiguousMarkerTakesEarliestAndFlags(t *testing.T) {
	p := models.Paper{
		PaperID: "p1",
		Sections: []models.Section{
			{Label: "Intro", Text: "Deep nets became standard (Smith, 2017)."},
		},
		ReferencesRaw: []string{
			"Smith, J. Deep networks. JMLR, 2017.",
			"Smith, P. Shallow networks. ICML, 2017.",
		},
	}
	edges, rep := Extract(p)
	require.Len(t, edges, 2)
	require.Equal(t, []string{"(Smith, 2017)"}, edges[0].Markers)
	require.True(t, edges[0].LowConfidence)
	require.Empty(t, edges[1].Markers)
	require.False(t, edges[1].LowConfidence)
	require.Equal(t, []string{"(Smith, 2017)"}, rep.AmbiguousMarkers)
}

func TestExtractUnmatchedMarkersDroppedIntoReport(t *testing.T) {
	p := numberedPaper(3)
	p.Sections[0].Text = "Out of range [99]. Unknown work (Nobody, 1980). Valid [2]."
	edges, rep := Extract(p)
	require.Len(t, edges, 3)
	require.ElementsMatch(t, []string{"[99]", "(Nobody, 1980)"}, rep.DroppedMarkers)
	require.Equal(t, []string{"[2]"}, edges[1].Markers)
}

func TestExtractNoReferencesNoEdges(t *testing.T) {
	edges, rep := Extract(models.Paper{
		PaperID:  "p1",
		Sections: []models.Section{{Label: "Body", Text: "Nothing cited here [1]."}},
	})
	require.Empty(t, edges)
	require.Empty(t, rep.DroppedMarkers)
}

func TestParseReferencesToleratesMixedEnumerationAndWraps(t *testing.T) {
	refs := ParseReferences([]string{
		"References",
		"1. Smith, J. A study of things. JMLR, 2015.",
		"(2) Jones, K. Another study with a very long",
		"wrapped title line. ICML, 2016.",
	})
	require.Len(t, refs, 2)
	require.Equal(t, 1, refs[0].Number)
	require.Equal(t, 2015, refs[0].Year)
	require.Equal(t, "Smith", refs[0].FirstAuthor)
	require.Equal(t, 2, refs[1].Number)
	require.Contains(t, refs[1].Raw, "wrapped title line")
	require.Equal(t, "Jones", refs[1].FirstAuthor)
}

func TestExtractUnnumberedEntriesMapByPosition(t *testing.T) {
	p := models.Paper{
		PaperID: "p1",
		Sections: []models.Section{
			{Label: "Body", Text: "Results in [2] build on [1]."},
		},
		ReferencesRaw: []string{
			"Vaswani, A. Attention is all you need. NeurIPS, 2017.",
			"Devlin, J. BERT pretraining. NAACL, 2019.",
		},
	}
	edges, rep := Extract(p)
	require.Len(t, edges, 2)
	require.Equal(t, []string{"[1]"}, edges[0].Markers)
	require.Equal(t, []string{"[2]"}, edges[1].Markers)
	require.Empty(t, rep.DroppedMarkers)
}

func TestScanMarkersSplitsSemicolonMultiCites(t *testing.T) {
	ms := ScanMarkers("Both lines of work (Smith, 2017; Lee et al., 2018) matter.")
	require.Len(t, ms, 2)
	require.Equal(t, "Smith", ms[0].Surname)
	require.Equal(t, 2017, ms[0].Year)
	require.Equal(t, "Lee", ms[1].Surname)
	require.Equal(t, 2018, ms[1].Year)
}

func TestScanMarkersNarrativeCite(t *testing.T) {
	ms := ScanMarkers("Vaswani et al. (2017) introduced attention.")
	require.Len(t, ms, 1)
	require.Equal(t, "Vaswani", ms[0].Surname)
	require.Equal(t, 2017, ms[0].Year)
}

func TestTitleSpanPicksLongestSentenceLikeSegment(t *testing.T) {
	got := TitleSpan("Vaswani, A., Shazeer, N. Attention is all you need. In NeurIPS, 2017.")
	require.Equal(t, "Attention is all you need", got)
}
