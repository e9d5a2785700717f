package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Object storage drivers.
const (
	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"
)

// ModelSpec configures one external image model.
type ModelSpec struct {
	ID   string
	Name string
	Sync bool
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	StoreDriver string
	DatabaseURL string
	DBMaxConns  int

	StorageDriver   string
	StoragePath     string
	StorageBaseURL  string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	S3PublicBaseURL string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	ProviderTimeout   time.Duration

	GenerationModels       []ModelSpec
	BackgroundRemovalModel ModelSpec
	MockupModel            ModelSpec
	UpscaleModel           ModelSpec

	WorkerClaimInterval    time.Duration
	PredictionPollInterval time.Duration
	EmbeddedWorker         bool

	StripeWebhookSecret string
	CORSAllowedOrigins  []string
	RateLimitPerMin     int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

const (
	defaultGenerationModels       = "black-forest-labs/flux-schnell=Flux Schnell:sync,black-forest-labs/flux-dev=Flux Dev:async"
	defaultBackgroundRemovalModel = "851-labs/background-remover=Background Remover:sync"
	defaultMockupModel            = "black-forest-labs/flux-kontext-pro=Flux Kontext:sync"
	defaultUpscaleModel           = "nightmareai/real-esrgan=Real-ESRGAN:sync"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),

		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        getEnv("S3_BUCKET", "product-assets"),
		S3UseSSL:        getEnvBool("S3_USE_SSL", true),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ProviderTimeout:   getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),

		WorkerClaimInterval:    getEnvDuration("WORKER_CLAIM_INTERVAL", 2*time.Second),
		PredictionPollInterval: getEnvDuration("PREDICTION_POLL_INTERVAL", 5*time.Second),
		EmbeddedWorker:         getEnvBool("EMBEDDED_WORKER", false),

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	var err error
	if cfg.GenerationModels, err = ParseModelSpecs(getEnv("GENERATION_MODELS", defaultGenerationModels)); err != nil {
		return nil, fmt.Errorf("GENERATION_MODELS: %w", err)
	}
	if len(cfg.GenerationModels) == 0 {
		return nil, fmt.Errorf("GENERATION_MODELS must list at least one model")
	}
	if cfg.BackgroundRemovalModel, err = parseSingleModel("BACKGROUND_REMOVAL_MODEL", defaultBackgroundRemovalModel); err != nil {
		return nil, err
	}
	if cfg.MockupModel, err = parseSingleModel("MOCKUP_MODEL", defaultMockupModel); err != nil {
		return nil, err
	}
	if cfg.UpscaleModel, err = parseSingleModel("UPSCALE_MODEL", defaultUpscaleModel); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
	case StorageDriverS3:
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return nil, fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 storage driver")
		}
		if strings.TrimSpace(cfg.S3PublicBaseURL) == "" {
			return nil, fmt.Errorf("S3_PUBLIC_BASE_URL is required for the s3 storage driver")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	return cfg, nil
}

// ParseModelSpecs parses a comma separated list of "owner/name=Display Name:mode"
// entries. The display name and mode are optional; mode defaults to sync.
func ParseModelSpecs(raw string) ([]ModelSpec, error) {
	var specs []ModelSpec
	for _, entry := range splitList(raw) {
		spec, err := parseModelSpec(entry)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseModelSpec(entry string) (ModelSpec, error) {
	spec := ModelSpec{Sync: true}
	if idx := strings.LastIndex(entry, ":"); idx >= 0 {
		switch mode := strings.ToLower(strings.TrimSpace(entry[idx+1:])); mode {
		case "sync":
		case "async":
			spec.Sync = false
		default:
			return ModelSpec{}, fmt.Errorf("model %q: unknown mode %q", entry, mode)
		}
		entry = entry[:idx]
	}
	id, name, _ := strings.Cut(entry, "=")
	spec.ID = strings.TrimSpace(id)
	spec.Name = strings.TrimSpace(name)
	if spec.ID == "" || !strings.Contains(spec.ID, "/") {
		return ModelSpec{}, fmt.Errorf("model %q: id must look like owner/name", entry)
	}
	if spec.Name == "" {
		spec.Name = spec.ID
	}
	return spec, nil
}

func parseSingleModel(key, fallback string) (ModelSpec, error) {
	spec, err := parseModelSpec(getEnv(key, fallback))
	if err != nil {
		return ModelSpec{}, fmt.Errorf("%s: %w", key, err)
	}
	return spec, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
