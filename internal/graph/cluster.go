package graph

import "sort"

const maxClusterRounds = 20

// Cluster recomputes community labels with deterministic label propagation
// over an undirected snapshot taken at entry. One pass runs at a time;
// concurrent ingests land in the next pass. Labels are dense ints starting
// at 0; a graph with no edges degrades to the single cluster 0.
func (b *Builder) Cluster() map[string]int {
	b.clusterMu.Lock()
	defer b.clusterMu.Unlock()

	ids, neighbors, edgeCount := b.snapshotUndirected()
	labels := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return labels
	}
	if edgeCount == 0 {
		for _, id := range ids {
			labels[id] = 0
		}
		b.storeClusters(labels)
		return labels
	}

	for i, id := range ids {
		labels[id] = i
	}
	for round := 0; round < maxClusterRounds; round++ {
		changed := false
		for _, id := range ids {
			best, ok := dominantLabel(neighbors[id], labels)
			if ok && best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	dense := densify(ids, labels)
	b.storeClusters(dense)
	return dense
}

func (b *Builder) snapshotUndirected() ([]string, map[string][]string, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := sortedNodeIDs(b.nodes)
	adj := make(map[string]map[string]struct{}, len(ids))
	edgeCount := 0
	for citing, targets := range b.out {
		if _, ok := b.nodes[citing]; !ok {
			continue
		}
		for target := range targets {
			if _, ok := b.nodes[target]; !ok {
				continue
			}
			if adj[citing] == nil {
				adj[citing] = make(map[string]struct{})
			}
			if adj[target] == nil {
				adj[target] = make(map[string]struct{})
			}
			adj[citing][target] = struct{}{}
			adj[target][citing] = struct{}{}
			edgeCount++
		}
	}

	neighbors := make(map[string][]string, len(adj))
	for id, set := range adj {
		list := make([]string, 0, len(set))
		for n := range set {
			list = append(list, n)
		}
		sort.Strings(list)
		neighbors[id] = list
	}
	return ids, neighbors, edgeCount
}

// dominantLabel picks the most frequent label among neighbors, smallest
// label on ties.
func dominantLabel(neighbors []string, labels map[string]int) (int, bool) {
	if len(neighbors) == 0 {
		return 0, false
	}
	counts := make(map[int]int, len(neighbors))
	for _, n := range neighbors {
		counts[labels[n]]++
	}
	best, bestCount := 0, -1
	for label, count := range counts {
		if count > bestCount || (count == bestCount && label < best) {
			best, bestCount = label, count
		}
	}
	return best, true
}

// densify renumbers labels to 0..k-1 in order of first appearance over the
// sorted node ids.
func densify(ids []string, labels map[string]int) map[string]int {
	next := 0
	remap := make(map[int]int)
	dense := make(map[string]int, len(ids))
	for _, id := range ids {
		old := labels[id]
		if _, ok := remap[old]; !ok {
			remap[old] = next
			next++
		}
		dense[id] = remap[old]
	}
	return dense
}

func (b *Builder) storeClusters(labels map[string]int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range labels {
		if n, ok := b.nodes[id]; ok {
			n.Cluster = c
		}
	}
}
