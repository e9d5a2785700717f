package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/imaginethisprinted/aistudio/internal/bootstrap"
	"github.com/imaginethisprinted/aistudio/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: the memory store is process local; run the api with EMBEDDED_WORKER instead")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := bootstrap.NewRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer repos.Close()

	store, _, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: object storage init failed")
	}

	w, err := bootstrap.NewWorker(cfg, repos, store, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: init failed")
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: exited with error")
	}
}
