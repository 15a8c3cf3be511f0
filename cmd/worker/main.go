package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"litgraph/internal/activities"
	"litgraph/internal/config"
	"litgraph/internal/logging"
	"litgraph/internal/schedule"
	"litgraph/internal/storage"
	"litgraph/internal/workflows"
)

// The recluster cadence is configurable; cache pruning runs nightly at a
// fixed off-peak time.
const cachePruneSpec = "30 2 * * *"

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx, cfg.EmbedDim); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	a, err := activities.New(cfg, db, logger)
	if err != nil {
		logger.Fatal("init activities", zap.Error(err))
	}
	activities.Register(w, a)

	sched := schedule.NewCronScheduler(logger)
	if err := sched.AddJob(schedule.NewReclusterJob(c, cfg.TemporalTaskQueue), cfg.ReclusterCron); err != nil {
		logger.Fatal("schedule recluster", zap.Error(err))
	}
	if err := sched.AddJob(schedule.NewCachePruneJob(storage.NewEmbedCacheRepo(db), cfg.EmbedCacheAge), cachePruneSpec); err != nil {
		logger.Fatal("schedule cache prune", zap.Error(err))
	}
	sched.Start(context.Background())
	defer sched.Stop()

	logger.Info("litgraph worker started",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("task_queue", cfg.TemporalTaskQueue),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}
