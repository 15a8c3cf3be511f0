package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"litgraph/internal/api"
	"litgraph/internal/config"
	"litgraph/internal/logging"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("api startup failed", zap.Error(err))
	}
	defer srv.Close()

	logger.Info("litgraph api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders))
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		logger.Fatal("api server exited", zap.Error(err))
	}
}
