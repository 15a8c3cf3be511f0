package ingestor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"litgraph/internal/util"
)

func TestParseDocumentNormalizesArxivID(t *testing.T) {
	data := []byte(`{
		"id": "arXiv:1706.03762v5",
		"title": "Attention Is All You Need",
		"authors": ["Ashish Vaswani", "Noam Shazeer"],
		"abstract": "The dominant sequence transduction models.",
		"sections": [
			{"label": "Introduction", "text": "Recurrent neural networks."},
			{"label": "", "text": "   "}
		],
		"references_raw": ["[1] Bahdanau et al. Neural machine translation. 2015."]
	}`)

	p, err := ParseDocument(data)
	require.NoError(t, err)
	require.Equal(t, "1706.03762", p.PaperID)
	require.Equal(t, "Attention Is All You Need", p.Title)
	require.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, p.Authors)
	require.Len(t, p.Sections, 1, "blank sections are dropped")
	require.Equal(t, "pending", p.Status)
	require.Len(t, p.ReferencesRaw, 1)
}

func TestParseDocumentFallsBackToContentHash(t *testing.T) {
	data := []byte(`{"title": "Untitled Tech Report", "sections": [{"label": "Body", "text": "Some text."}]}`)
	p, err := ParseDocument(data)
	require.NoError(t, err)
	require.Equal(t, util.SHA256Hex(data), p.PaperID)

	again, err := ParseDocument(data)
	require.NoError(t, err)
	require.Equal(t, p.PaperID, again.PaperID, "same bytes must map to the same paper")
}

func TestParseDocumentRejectsMissingTitle(t *testing.T) {
	_, err := ParseDocument([]byte(`{"sections": [{"label": "Body", "text": "x"}]}`))
	require.ErrorIs(t, err, ErrMalformedPaper)
}

func TestParseDocumentRejectsEmptyBody(t *testing.T) {
	_, err := ParseDocument([]byte(`{"title": "Ghost Paper", "sections": [{"label": "Body", "text": "  "}]}`))
	require.ErrorIs(t, err, ErrMalformedPaper)
}

func TestParseDocumentRejectsBadJSON(t *testing.T) {
	_, err := ParseDocument([]byte(`{"title": `))
	require.ErrorIs(t, err, ErrMalformedPaper)
}

func TestNormalizeArxivID(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"arXiv:1706.03762v5", "1706.03762", true},
		{"1706.03762", "1706.03762", true},
		{"2304.01234", "2304.01234", true},
		{"10.1234/xyz", "", false},
		{"not-an-id", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeArxivID(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestDecomposeTextSplitsOnHeadings(t *testing.T) {
	text := "Attention Is All You Need\n" +
		"Ashish Vaswani, Noam Shazeer and Niki Parmar\n" +
		"Google Brain, Mountain View\n" +
		"\n" +
		"Abstract\n" +
		"The dominant sequence transduction models are based on recurrent networks.\n" +
		"\n" +
		"1 Introduction\n" +
		"Recurrent neural networks have long dominated sequence modeling.\n" +
		"\n" +
		"2 Results\n" +
		"The transformer outperforms prior art.\n" +
		"\n" +
		"References\n" +
		"[1] Bahdanau, Cho, and Bengio. Neural machine translation. 2015.\n" +
		"[2] Sutskever et al. Sequence to sequence learning. 2014.\n"

	doc := DecomposeText(text)
	require.Equal(t, "Attention Is All You Need", doc.Title)
	require.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar"}, doc.Authors)
	require.Contains(t, doc.Abstract, "sequence transduction")

	require.Len(t, doc.Sections, 2)
	require.Equal(t, "Introduction", doc.Sections[0].Label)
	require.Equal(t, "Results", doc.Sections[1].Label)
	for _, s := range doc.Sections {
		require.NotContains(t, s.Text, "Google Brain", "affiliation lines are front matter")
	}

	require.Len(t, doc.ReferencesRaw, 2)
	require.Contains(t, doc.ReferencesRaw[0], "Bahdanau")
}

func TestDecomposeTextWithoutHeadingsKeepsBody(t *testing.T) {
	text := "A Note On Softmax\nAn Author\nThis short note has no headings.\nIt is just prose."
	doc := DecomposeText(text)
	require.Equal(t, "A Note On Softmax", doc.Title)
	require.Equal(t, []string{"An Author"}, doc.Authors)
	require.Len(t, doc.Sections, 1)
	require.Equal(t, "Body", doc.Sections[0].Label)
	require.Contains(t, doc.Sections[0].Text, "no headings")
	require.Empty(t, doc.ReferencesRaw)
}
