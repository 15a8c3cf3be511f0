package graph

import (
	"fmt"
	"sort"
	"time"
)

// QueryService answers structural read queries over the builder's graph.
// Every method is a pure projection over a snapshot; none mutates state.
type QueryService struct {
	g                 *Builder
	foundationalYears int
	now               func() time.Time
}

func NewQueryService(g *Builder, foundationalYears int) *QueryService {
	if foundationalYears <= 0 {
		foundationalYears = 10
	}
	return &QueryService{g: g, foundationalYears: foundationalYears, now: time.Now}
}

// Snapshot projects the whole graph.
func (q *QueryService) Snapshot() View {
	q.g.mu.RLock()
	defer q.g.mu.RUnlock()
	include := make(map[string]bool, len(q.g.nodes))
	for id := range q.g.nodes {
		include[id] = true
	}
	return q.induced(include)
}

// Neighborhood projects the induced subgraph of nodes within depth hops of
// the paper, following edges in both directions. Depth below 1 means 1.
func (q *QueryService) Neighborhood(paperID string, depth int) (View, error) {
	if depth < 1 {
		depth = 1
	}
	q.g.mu.RLock()
	defer q.g.mu.RUnlock()
	if _, ok := q.g.nodes[paperID]; !ok {
		return View{}, fmt.Errorf("node %s not found", paperID)
	}

	include := map[string]bool{paperID: true}
	frontier := []string{paperID}
	for hop := 0; hop < depth; hop++ {
		var next []string
		for _, id := range frontier {
			for _, n := range q.adjacentLocked(id) {
				if !include[n] {
					include[n] = true
					next = append(next, n)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return q.induced(include), nil
}

// TimeSlice projects nodes published after `after` and no later than
// `before`; nil bounds are open. Unknown-date nodes count as published now,
// so they fall only into slices whose bounds admit the present.
func (q *QueryService) TimeSlice(before, after *time.Time) View {
	q.g.mu.RLock()
	defer q.g.mu.RUnlock()
	now := q.now().UTC()
	include := make(map[string]bool)
	for id, n := range q.g.nodes {
		t := now
		if n.PublishedAt != nil {
			t = *n.PublishedAt
		}
		if after != nil && !t.After(*after) {
			continue
		}
		if before != nil && t.After(*before) {
			continue
		}
		include[id] = true
	}
	return q.induced(include)
}

// ClusterMembers lists the node ids carrying the label, sorted.
func (q *QueryService) ClusterMembers(label int) []string {
	q.g.mu.RLock()
	defer q.g.mu.RUnlock()
	var out []string
	for id, n := range q.g.nodes {
		if n.Cluster == label {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clusters reports the size of each cluster label.
func (q *QueryService) Clusters() map[int]int {
	q.g.mu.RLock()
	defer q.g.mu.RUnlock()
	out := make(map[int]int)
	for _, n := range q.g.nodes {
		out[n.Cluster]++
	}
	return out
}

// induced builds the view over the included node set. Caller holds the
// builder's read lock.
func (q *QueryService) induced(include map[string]bool) View {
	ids := make([]string, 0, len(include))
	for id := range include {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	view := View{Nodes: make([]NodeView, 0, len(ids))}
	for _, id := range ids {
		n := q.g.nodes[id]
		if n == nil {
			continue
		}
		view.Nodes = append(view.Nodes, NodeView{
			ID:          n.ID,
			Label:       n.Label,
			Resolved:    n.Resolved,
			Cluster:     n.Cluster,
			Era:         q.era(n.PublishedAt),
			PublishedAt: n.PublishedAt,
		})
	}

	for _, citing := range ids {
		targets := q.g.out[citing]
		if len(targets) == 0 {
			continue
		}
		keys := make([]string, 0, len(targets))
		for t := range targets {
			if include[t] {
				keys = append(keys, t)
			}
		}
		sort.Strings(keys)
		for _, t := range keys {
			e := targets[t]
			view.Edges = append(view.Edges, EdgeView{
				From:          e.CitingPaperID,
				To:            e.TargetKey,
				RawRef:        e.RawRef,
				Markers:       append([]string(nil), e.Markers...),
				Confidence:    e.Confidence,
				Resolved:      e.Resolved,
				LowConfidence: e.LowConfidence,
			})
		}
	}
	return view
}

// adjacentLocked lists neighbors in both edge directions. Caller holds the
// builder's read lock.
func (q *QueryService) adjacentLocked(id string) []string {
	set := make(map[string]struct{})
	for t := range q.g.out[id] {
		set[t] = struct{}{}
	}
	for citing, targets := range q.g.out {
		if _, ok := targets[id]; ok {
			set[citing] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// era projects a publication date onto the foundational/recent split.
// Unknown dates default to recent.
func (q *QueryService) era(t *time.Time) string {
	if t == nil {
		return EraRecent
	}
	cutoff := q.now().UTC().AddDate(-q.foundationalYears, 0, 0)
	if t.Before(cutoff) {
		return EraFoundational
	}
	return EraRecent
}
