package storage

import (
	"context"
	"fmt"
	"sort"

	"litgraph/internal/models"
)

// GraphRepo persists citation-graph nodes. Edges live in citation_edges;
// together the two tables are enough to rebuild the in-memory graph on boot.
type GraphRepo struct {
	db *DB
}

func NewGraphRepo(db *DB) *GraphRepo {
	return &GraphRepo{db: db}
}

func (r *GraphRepo) UpsertNodes(ctx context.Context, nodes []models.GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert nodes: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, n := range nodes {
		_, err := tx.Exec(ctx, `
INSERT INTO graph_nodes (node_id, label, resolved, published_at, cluster_label)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (node_id)
DO UPDATE SET
  label = EXCLUDED.label,
  resolved = graph_nodes.resolved OR EXCLUDED.resolved,
  published_at = COALESCE(EXCLUDED.published_at, graph_nodes.published_at),
  cluster_label = EXCLUDED.cluster_label,
  updated_at = NOW()`,
			n.NodeID, n.Label, n.Resolved, n.PublishedAt, n.Cluster,
		)
		if err != nil {
			return fmt.Errorf("upsert node %s: %w", n.NodeID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit nodes tx: %w", err)
	}
	return nil
}

func (r *GraphRepo) ListNodes(ctx context.Context) ([]models.GraphNode, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT node_id, label, resolved, published_at, cluster_label
FROM graph_nodes
ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	out := make([]models.GraphNode, 0)
	for rows.Next() {
		var n models.GraphNode
		if err := rows.Scan(&n.NodeID, &n.Label, &n.Resolved, &n.PublishedAt, &n.Cluster); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

// UpdateClusters writes a fresh cluster assignment. Iteration is sorted so
// repeated runs touch rows in the same order.
func (r *GraphRepo) UpdateClusters(ctx context.Context, labels map[string]int) error {
	if len(labels) == 0 {
		return nil
	}
	ids := make([]string, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx update clusters: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, id := range ids {
		if _, err := tx.Exec(ctx,
			`UPDATE graph_nodes SET cluster_label=$2, updated_at=NOW() WHERE node_id=$1`,
			id, labels[id],
		); err != nil {
			return fmt.Errorf("update cluster for %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit clusters tx: %w", err)
	}
	return nil
}

func (r *GraphRepo) DeleteNode(ctx context.Context, nodeID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM graph_nodes WHERE node_id=$1`, nodeID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// ReplaceNodes swaps the stored node set for the given one inside a single
// transaction. Rebuilds use it so readers never observe a half-written graph.
func (r *GraphRepo) ReplaceNodes(ctx context.Context, nodes []models.GraphNode) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace nodes: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `DELETE FROM graph_nodes`); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}
	for _, n := range nodes {
		if _, err := tx.Exec(ctx, `
INSERT INTO graph_nodes (node_id, label, resolved, published_at, cluster_label)
VALUES ($1, $2, $3, $4, $5)`,
			n.NodeID, n.Label, n.Resolved, n.PublishedAt, n.Cluster,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", n.NodeID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace nodes tx: %w", err)
	}
	return nil
}
