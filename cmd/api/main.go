package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/imaginethisprinted/aistudio/internal/bootstrap"
	"github.com/imaginethisprinted/aistudio/internal/http/handlers"
	httpapi "github.com/imaginethisprinted/aistudio/internal/http/httpapi"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/service"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	// Konfigurasi & logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := bootstrap.NewRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to open store")
	}
	defer repos.Close()

	products := service.NewProductService(repos.Jobs, repos.Assets, repos.Products, &logger)
	app := handlers.NewApp(products, logger, cfg.StripeWebhookSecret)
	app.Ready = repos.Ping

	routerOpts := httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}

	// The memory store is process local, so the worker has to live in this process.
	if cfg.EmbeddedWorker || cfg.StoreDriver == infra.StoreDriverMemory {
		store, staticDir, err := bootstrap.NewObjectStore(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to open object storage")
		}
		routerOpts.StaticDir = staticDir
		w, err := bootstrap.NewWorker(cfg, repos, store, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to build embedded worker")
		}
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("api: embedded worker stopped")
			}
		}()
	} else if cfg.StorageDriver == infra.StorageDriverFilesystem {
		routerOpts.StaticDir = cfg.StoragePath
	}

	router := httpapi.NewRouter(app, routerOpts)
	server := infra.NewHTTPServer(cfg, router)

	// Start async
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
