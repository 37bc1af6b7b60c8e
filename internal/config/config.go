package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"discernus/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Providers ProviderConfig
	Budget    BudgetConfig
	Storage   StorageConfig
	Index     IndexConfig
	Registry  RegistryConfig
	Workers   WorkerConfig
}

// ProviderConfig holds per-provider credentials and endpoints
type ProviderConfig struct {
	OpenAIKey       string
	AnthropicKey    string
	GeminiKey       string
	MistralKey      string
	VertexProject   string
	VertexLocation  string
	OllamaBaseURL   string
	RequestTimeout  time.Duration
	FallbackModels  map[string]string // primary model -> fallback model
	EmbeddingModel  string
}

// BudgetConfig holds the daily cost cap for the process
type BudgetConfig struct {
	DailyLimitUSD float64
}

// StorageConfig holds the artifact store location
type StorageConfig struct {
	Root string
}

// IndexConfig holds the knowledge index location
type IndexConfig struct {
	Path string
}

// RegistryConfig optionally mirrors registry rows to a shared database
type RegistryConfig struct {
	DSN string // empty disables the mirror
}

// WorkerConfig bounds pipeline concurrency
type WorkerConfig struct {
	MaxConcurrent int
}

// Load reads configuration from environment variables, with .env support
func Load() (*Config, error) {
	// .env is optional; absence is not an error
	_ = godotenv.Load()

	cfg := &Config{
		Providers: ProviderConfig{
			OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
			AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
			GeminiKey:      os.Getenv("GEMINI_API_KEY"),
			MistralKey:     os.Getenv("MISTRAL_API_KEY"),
			VertexProject:  os.Getenv("VERTEX_PROJECT_ID"),
			VertexLocation: envOr("VERTEX_LOCATION", "us-central1"),
			OllamaBaseURL:  envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
			RequestTimeout: envDuration("DISCERNUS_REQUEST_TIMEOUT", 120*time.Second),
			EmbeddingModel: envOr("DISCERNUS_EMBEDDING_MODEL", "text-embedding-004"),
			FallbackModels: envPairs("DISCERNUS_FALLBACK_MODELS"),
		},
		Budget: BudgetConfig{
			DailyLimitUSD: envFloat("DISCERNUS_DAILY_BUDGET_USD", 25.0),
		},
		Storage: StorageConfig{
			Root: envOr("DISCERNUS_ARTIFACT_ROOT", ".discernus/artifacts"),
		},
		Index: IndexConfig{
			Path: envOr("DISCERNUS_INDEX_PATH", ".discernus/index.db"),
		},
		Registry: RegistryConfig{
			DSN: os.Getenv("DISCERNUS_REGISTRY_DSN"),
		},
		Workers: WorkerConfig{
			MaxConcurrent: envInt("DISCERNUS_MAX_WORKERS", 4),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Budget.DailyLimitUSD <= 0 {
		return errors.New("CONFIG_INVALID", "daily budget must be positive")
	}
	if c.Workers.MaxConcurrent < 1 {
		return errors.New("CONFIG_INVALID", "worker count must be at least 1")
	}
	if c.Storage.Root == "" {
		return errors.New("CONFIG_INVALID", "artifact root must be set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// envPairs parses "primary=fallback,primary2=fallback2" into a routing map
func envPairs(key string) map[string]string {
	pairs := map[string]string{}
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if k, v, ok := strings.Cut(item, "="); ok {
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k != "" && v != "" {
				pairs[k] = v
			}
		}
	}
	return pairs
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
