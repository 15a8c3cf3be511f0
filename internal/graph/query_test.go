package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litgraph/internal/citations"
	"litgraph/internal/models"
)

// twoPaperGraph wires A citing B (resolved) plus one external work:
// 3 nodes, 2 edges.
func twoPaperGraph(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder(0.8)
	b.AddPaper(models.Paper{PaperID: "p-a", Title: "Alpha Paper About Things", PublishedAt: datePtr(2015)})
	b.AddPaper(models.Paper{PaperID: "p-b", Title: "Beta Paper About Stuff", PublishedAt: datePtr(2020)})
	_, err := b.Ingest("p-a", []citations.RawEdge{
		{CitingPaperID: "p-a", RawRef: "Beta paper about stuff. 2020.", Markers: []string{"[1]"}, Confidence: 0.9},
		{CitingPaperID: "p-a", RawRef: "Goodfellow, I. Deep Learning. MIT Press, 2016.", Markers: []string{"[2]"}, Confidence: 0.9},
	})
	require.NoError(t, err)
	return b
}

func TestSnapshotCoversWholeGraph(t *testing.T) {
	q := NewQueryService(twoPaperGraph(t), 10)
	view := q.Snapshot()
	require.Len(t, view.Nodes, 3)
	require.Len(t, view.Edges, 2)
}

func TestNeighborhoodDepthOne(t *testing.T) {
	q := NewQueryService(twoPaperGraph(t), 10)
	view, err := q.Neighborhood("p-b", 1)
	require.NoError(t, err)

	ids := make([]string, 0, len(view.Nodes))
	for _, n := range view.Nodes {
		ids = append(ids, n.ID)
	}
	require.Equal(t, []string{"p-a", "p-b"}, ids)
	require.Len(t, view.Edges, 1)
	require.Equal(t, "p-a", view.Edges[0].From)
	require.Equal(t, "p-b", view.Edges[0].To)
	require.True(t, view.Edges[0].Resolved)
}

func TestNeighborhoodDepthTwoReachesExternalWork(t *testing.T) {
	q := NewQueryService(twoPaperGraph(t), 10)
	view, err := q.Neighborhood("p-b", 2)
	require.NoError(t, err)
	require.Len(t, view.Nodes, 3)
	require.Len(t, view.Edges, 2)
}

func TestNeighborhoodUnknownNode(t *testing.T) {
	q := NewQueryService(twoPaperGraph(t), 10)
	_, err := q.Neighborhood("missing", 1)
	require.Error(t, err)
}

func TestTimeSliceBoundsAndUnknownDates(t *testing.T) {
	q := NewQueryService(twoPaperGraph(t), 10)
	q.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	cutoff := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	past := q.TimeSlice(&cutoff, nil)
	require.Len(t, past.Nodes, 1, "unknown-date external counts as recent, not old")
	require.Equal(t, "p-a", past.Nodes[0].ID)

	recent := q.TimeSlice(nil, &cutoff)
	ids := make([]string, 0, len(recent.Nodes))
	for _, n := range recent.Nodes {
		ids = append(ids, n.ID)
	}
	require.Len(t, ids, 2)
	require.Contains(t, ids, "p-b")
	require.NotContains(t, ids, "p-a")

	all := q.TimeSlice(nil, nil)
	require.Len(t, all.Nodes, 3)
	require.Len(t, all.Edges, 2)
}

func TestEraProjection(t *testing.T) {
	q := NewQueryService(twoPaperGraph(t), 10)
	q.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	view := q.Snapshot()
	eras := make(map[string]string, len(view.Nodes))
	for _, n := range view.Nodes {
		eras[n.ID] = n.Era
	}
	require.Equal(t, EraFoundational, eras["p-a"], "2015 is older than the 10-year window")
	require.Equal(t, EraRecent, eras["p-b"])
	for id, era := range eras {
		if id != "p-a" && id != "p-b" {
			require.Equal(t, EraRecent, era, "unknown dates default to recent")
		}
	}
}
