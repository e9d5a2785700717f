// Package bootstrap assembles the stores, providers and worker from configuration
// so the api and worker commands wire the same pieces.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/imaginethisprinted/aistudio/internal/adapter/repo"
	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	imageprovider "github.com/imaginethisprinted/aistudio/internal/providers/image"
	"github.com/imaginethisprinted/aistudio/internal/providers/replicate"
	"github.com/imaginethisprinted/aistudio/internal/storage"
	"github.com/imaginethisprinted/aistudio/internal/worker"
)

// Repositories bundles the record stores.
type Repositories struct {
	Jobs     domain.JobRepository
	Assets   domain.AssetRepository
	Products domain.ProductRepository
	// Close releases the underlying connection pool, if any.
	Close func()
	// Ping checks the store connection. It is nil for the memory store.
	Ping func(ctx context.Context) error
}

// NewRepositories opens the configured store driver.
func NewRepositories(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Repositories, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("bootstrap: using in-memory store, data is lost on restart")
		store := repo.NewMemoryStore()
		return &Repositories{Jobs: store.Jobs(), Assets: store.Assets(), Products: store.Products(), Close: func() {}}, nil
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		return &Repositories{
			Jobs:     repo.NewJobRepository(runner, logger),
			Assets:   repo.NewAssetRepository(runner),
			Products: repo.NewProductRepository(runner),
			Close:    pool.Close,
			Ping:     pool.Ping,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewObjectStore opens the configured storage driver. The returned directory is
// non-empty for the filesystem driver, which the api serves under /static.
func NewObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, string, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverFilesystem:
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, "", err
		}
		return store, store.BasePath(), nil
	case infra.StorageDriverS3:
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// NewWorker builds the provider client, model adapter and worker.
func NewWorker(cfg *infra.Config, repos *Repositories, store storage.ObjectStore, logger *infra.Logger) (*worker.Worker, error) {
	client, err := replicate.NewClient(replicate.Options{
		APIToken:       cfg.ReplicateAPIToken,
		BaseURL:        cfg.ReplicateBaseURL,
		Logger:         logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !client.HasCredentials() {
		return nil, errors.New("REPLICATE_API_TOKEN is required to run the worker")
	}

	models := make([]imageprovider.Model, 0, len(cfg.GenerationModels))
	for _, spec := range cfg.GenerationModels {
		models = append(models, toModel(spec))
	}
	adapter := imageprovider.NewAdapter(client, models, logger)

	return worker.New(worker.Options{
		Jobs:     repos.Jobs,
		Assets:   repos.Assets,
		Products: repos.Products,
		Adapter:  adapter,
		Store:    store,
		Models: worker.Models{
			BackgroundRemoval: toModel(cfg.BackgroundRemovalModel),
			Mockup:            toModel(cfg.MockupModel),
			Upscale:           toModel(cfg.UpscaleModel),
		},
		Downloader:    worker.NewHTTPDownloader(&http.Client{Timeout: cfg.ProviderTimeout}),
		Logger:        logger,
		ClaimInterval: cfg.WorkerClaimInterval,
		PollInterval:  cfg.PredictionPollInterval,
	})
}

func toModel(spec infra.ModelSpec) imageprovider.Model {
	return imageprovider.Model{ID: spec.ID, Name: spec.Name, Sync: spec.Sync}
}
