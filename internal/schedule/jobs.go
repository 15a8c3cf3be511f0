package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"

	"litgraph/internal/storage"
	"litgraph/internal/workflows"
)

// ReclusterJob starts the recluster rebuild workflow on schedule. A rebuild
// already in flight is left alone.
type ReclusterJob struct {
	temporal  tclient.Client
	taskQueue string
}

func NewReclusterJob(temporal tclient.Client, taskQueue string) *ReclusterJob {
	return &ReclusterJob{temporal: temporal, taskQueue: taskQueue}
}

func (j *ReclusterJob) Name() string {
	return "graph_recluster"
}

func (j *ReclusterJob) Run(ctx context.Context) error {
	if j.temporal == nil {
		return nil
	}
	_, err := j.temporal.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       workflows.RebuildWorkflowID(workflows.ModeRecluster),
		TaskQueue:                                j.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.RebuildWorkflow, workflows.RebuildInput{Mode: workflows.ModeRecluster})
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("start recluster workflow: %w", err)
	}
	return nil
}

// CachePruneJob evicts persistent embedding-cache rows older than the
// configured age. The in-memory tier expires on its own TTL.
type CachePruneJob struct {
	repo   *storage.EmbedCacheRepo
	maxAge time.Duration
}

func NewCachePruneJob(repo *storage.EmbedCacheRepo, maxAge time.Duration) *CachePruneJob {
	return &CachePruneJob{repo: repo, maxAge: maxAge}
}

func (j *CachePruneJob) Name() string {
	return "embedding_cache_prune"
}

func (j *CachePruneJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = 720 * time.Hour
	}
	_, err := j.repo.DeleteOlderThan(ctx, time.Now().Add(-maxAge))
	return err
}
