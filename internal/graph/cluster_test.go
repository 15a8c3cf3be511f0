package graph

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litgraph/internal/citations"
	"litgraph/internal/models"
)

func addRing(t *testing.T, b *Builder, ids []string, titles []string) {
	t.Helper()
	for i, id := range ids {
		b.AddPaper(models.Paper{PaperID: id, Title: titles[i]})
	}
	for i, id := range ids {
		next := titles[(i+1)%len(titles)]
		_, err := b.Ingest(id, []citations.RawEdge{
			{CitingPaperID: id, RawRef: next + ". 2020.", Confidence: 0.9},
		})
		require.NoError(t, err)
	}
}

func TestClusterSeparatesComponents(t *testing.T) {
	b := NewBuilder(0.8)
	addRing(t, b, []string{"a", "b", "c"}, []string{
		"Alpha Methods for Parsing",
		"Beta Approaches to Parsing",
		"Gamma Parsing Survey",
	})
	addRing(t, b, []string{"x", "y", "z"}, []string{
		"Delta Vision Transformers",
		"Epsilon Vision Scaling",
		"Zeta Vision Benchmarks",
	})

	labels := b.Cluster()
	require.Len(t, labels, 6)
	require.Equal(t, labels["a"], labels["b"])
	require.Equal(t, labels["a"], labels["c"])
	require.Equal(t, labels["x"], labels["y"])
	require.Equal(t, labels["x"], labels["z"])
	require.NotEqual(t, labels["a"], labels["x"])
	require.Equal(t, 0, labels["a"], "dense labels start at the smallest sorted id")
	require.Equal(t, 1, labels["x"])

	q := NewQueryService(b, 10)
	require.Equal(t, []string{"a", "b", "c"}, q.ClusterMembers(0))
	require.Equal(t, []string{"x", "y", "z"}, q.ClusterMembers(1))
	require.Equal(t, map[int]int{0: 3, 1: 3}, q.Clusters())
}

func TestClusterEdgelessGraphDegradesToSingleCluster(t *testing.T) {
	b := NewBuilder(0.8)
	b.AddPaper(models.Paper{PaperID: "p1", Title: "One"})
	b.AddPaper(models.Paper{PaperID: "p2", Title: "Two"})
	b.AddPaper(models.Paper{PaperID: "p3", Title: "Three"})

	labels := b.Cluster()
	require.Equal(t, map[string]int{"p1": 0, "p2": 0, "p3": 0}, labels)
}

func TestClusterIsolatedNodeKeepsOwnLabelWhenEdgesExist(t *testing.T) {
	b := NewBuilder(0.8)
	b.AddPaper(models.Paper{PaperID: "a", Title: "Alpha Methods for Parsing"})
	b.AddPaper(models.Paper{PaperID: "b", Title: "Beta Approaches to Parsing"})
	b.AddPaper(models.Paper{PaperID: "c", Title: "Unrelated Isolated Work"})
	_, err := b.Ingest("a", []citations.RawEdge{
		{CitingPaperID: "a", RawRef: "Beta approaches to parsing. 2020.", Confidence: 0.9},
	})
	require.NoError(t, err)

	labels := b.Cluster()
	require.Equal(t, labels["a"], labels["b"])
	require.NotEqual(t, labels["a"], labels["c"])
}

func TestClusterDeterministicAcrossRuns(t *testing.T) {
	b := NewBuilder(0.8)
	addRing(t, b, []string{"a", "b", "c"}, []string{
		"Alpha Methods for Parsing",
		"Beta Approaches to Parsing",
		"Gamma Parsing Survey",
	})
	first := b.Cluster()
	second := b.Cluster()
	require.Equal(t, first, second)
}

func TestClusterRunsAgainstConcurrentIngest(t *testing.T) {
	b := NewBuilder(0.8)
	b.AddPaper(models.Paper{PaperID: "seed", Title: "Seed Paper"})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id := fmt.Sprintf("p-%d-%d", worker, j)
				_, err := b.Ingest(id, []citations.RawEdge{
					{CitingPaperID: id, RawRef: fmt.Sprintf("External work %d %d. 2021.", worker, j), Confidence: 0.9},
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		b.Cluster()
	}
	wg.Wait()

	labels := b.Cluster()
	nodes, _ := b.Export()
	require.Len(t, labels, len(nodes))
}
