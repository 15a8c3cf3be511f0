package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	require.Nil(t, Chunk("", "intro", 500, 100))
	require.Nil(t, Chunk("   \n\t  ", "intro", 500, 100))
}

func TestChunkShortTextSinglePiece(t *testing.T) {
	text := "Transformers dispense with recurrence entirely."
	pieces := Chunk(text, "abstract", 500, 100)
	require.Len(t, pieces, 1)
	require.Equal(t, text, pieces[0].Text)
	require.Equal(t, "abstract", pieces[0].Section)
	require.Zero(t, pieces[0].Overlap)
}

func TestChunkLosslessReconstruction(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The model attends over all positions in the sequence. ")
		b.WriteString("Each layer adds a residual connection around both sublayers.\n")
	}
	text := b.String()

	pieces := Chunk(text, "method", 300, 80)
	require.Greater(t, len(pieces), 3)
	require.Equal(t, text, Reconstruct(pieces))

	for i, p := range pieces {
		if i == 0 {
			require.Zero(t, p.Overlap)
			continue
		}
		require.Positive(t, p.Overlap)
		// The overlap prefix is literally the tail of the previous piece.
		prev := []rune(pieces[i-1].Text)
		require.Equal(t, string(prev[len(prev)-p.Overlap:]), string([]rune(p.Text)[:p.Overlap]))
	}
}

func TestChunkSoftCapKeepsOversizedSentence(t *testing.T) {
	long := "This single sentence runs far past the budget because it keeps enumerating clauses " +
		strings.Repeat("and more clauses ", 30) + "before finally stopping."
	pieces := Chunk(long, "discussion", 100, 20)
	require.Len(t, pieces, 1)
	require.Equal(t, long, pieces[0].Text)
}

func TestChunkNeverSplitsMidSentence(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Attention weights are computed with a softmax over scaled dot products. ")
	}
	pieces := Chunk(b.String(), "method", 250, 0)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		require.True(t, strings.HasSuffix(strings.TrimSpace(p.Text), "."),
			"piece should end on a sentence boundary: %q", p.Text)
	}
}

func TestSplitSentencesPartition(t *testing.T) {
	text := "Is attention enough? We believe so! The results in Table 2 support this.\nFuture work remains."
	sentences := SplitSentences(text)
	require.Len(t, sentences, 4)
	require.Equal(t, text, strings.Join(sentences, ""))
}

func TestSplitSentencesAbbreviations(t *testing.T) {
	text := "Smith et al. proposed the method in Fig. 3 and Sec. 2. Later work extended it."
	sentences := SplitSentences(text)
	require.Len(t, sentences, 2)
	require.Equal(t, text, strings.Join(sentences, ""))
	require.True(t, strings.HasPrefix(sentences[1], "Later"))
}

func TestSplitSentencesInitialsAndDecimals(t *testing.T) {
	text := "J. Smith reported an error of 3.14 percent. B. Jones disagreed."
	sentences := SplitSentences(text)
	require.Len(t, sentences, 2)
	require.Equal(t, text, strings.Join(sentences, ""))
}
