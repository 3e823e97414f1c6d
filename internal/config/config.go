// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.tutor/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation model, embedder, temperature, answer token cap
//   - RAG: top-K, similarity threshold, context budgets, stage timeouts
//   - Limits: per-user request quotas and the daily token budget
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: listen address, proxy trust, per-IP burst, identity secret
//
// Error handling uses sentinel errors so callers can check errors.Is().
// Sensitive values (password, HMAC secret) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidBudget indicates a token budget is out of range.
	ErrInvalidBudget = errors.New("invalid token budget")

	// ErrInvalidLimit indicates a usage quota is out of range.
	ErrInvalidLimit = errors.New("invalid usage limit")

	// ErrInvalidTimeout indicates a stage timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingHMACSecret indicates the identity HMAC secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the identity HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")
)

const (
	// DefaultEmbedderModel is the pinned embedder. gemini-embedding-001
	// outputs 3072 dimensions by default but supports truncation to 768
	// via OutputDimensionality; the pgvector schema uses 768 (see
	// passage.VectorDimension). Changing the embedder without re-indexing
	// silently degrades retrieval, so it is pinned here and versioned in
	// the passages schema.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"
)

// RAGConfig holds retrieval and generation pipeline tunables.
type RAGConfig struct {
	TopK                int     `mapstructure:"top_k" json:"top_k"`                                 // passages retrieved per question, [1,10]
	ScoreThreshold      float32 `mapstructure:"score_threshold" json:"score_threshold"`             // minimum cosine similarity, [0,1]
	ContextBudgetTokens int     `mapstructure:"context_budget_tokens" json:"context_budget_tokens"` // retrieved-context budget
	SelectedTextTokens  int     `mapstructure:"selected_text_tokens" json:"selected_text_tokens"`   // independent budget for user-selected text
	InputTokenCeiling   int     `mapstructure:"input_token_ceiling" json:"input_token_ceiling"`     // hard cap on prompt size
	MaxAnswerTokens     int     `mapstructure:"max_answer_tokens" json:"max_answer_tokens"`

	RetrievalTimeout  time.Duration `mapstructure:"retrieval_timeout" json:"retrieval_timeout"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" json:"generation_timeout"`
}

// LimitsConfig holds per-user quotas and the daily token budget.
// The token budget is a soft signal: overruns are logged and exposed on
// /ready, never enforced at request time.
type LimitsConfig struct {
	QuestionsPerHour       int   `mapstructure:"questions_per_hour" json:"questions_per_hour"`
	PersonalizationsPerDay int   `mapstructure:"personalizations_per_day" json:"personalizations_per_day"`
	TranslationsPerDay     int   `mapstructure:"translations_per_day" json:"translations_per_day"`
	DailyTokenBudget       int64 `mapstructure:"daily_token_budget" json:"daily_token_budget"`
}

// OTELConfig holds trace export configuration.
type OTELConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // OTLP HTTP endpoint, empty disables tracing
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields must never be logged; keep them out of any
// structured log attributes.
type Config struct {
	// AI model configuration
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	RAG    RAGConfig    `mapstructure:"rag" json:"rag"`
	Limits LimitsConfig `mapstructure:"limits" json:"limits"`
	OTEL   OTELConfig   `mapstructure:"otel" json:"otel"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration (serve mode only)
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst (0 = default)
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: identity token verification
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".tutor")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.2)

	// RAG defaults: retrieval must stay well under the 3s end-to-end
	// latency target, generation is the dominant cost.
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.score_threshold", 0.7)
	v.SetDefault("rag.context_budget_tokens", 2000)
	v.SetDefault("rag.selected_text_tokens", 1000)
	v.SetDefault("rag.input_token_ceiling", 4000)
	v.SetDefault("rag.max_answer_tokens", 1000)
	v.SetDefault("rag.retrieval_timeout", 2*time.Second)
	v.SetDefault("rag.generation_timeout", 2500*time.Millisecond)

	// Usage limits
	v.SetDefault("limits.questions_per_hour", 20)
	v.SetDefault("limits.personalizations_per_day", 5)
	v.SetDefault("limits.translations_per_day", 5)
	v.SetDefault("limits.daily_token_budget", 2_000_000)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "tutor")
	v.SetDefault("postgres_password", "tutor_dev_password")
	v.SetDefault("postgres_db_name", "tutor")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	v.SetDefault("listen_addr", "127.0.0.1:8000")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 0)

	// OTEL defaults (endpoint empty: tracing disabled)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.environment", "dev")
	v.SetDefault("otel.service_name", "tutor")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper;
// Validate() only checks its presence.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("hmac_secret", "HMAC_SECRET")
	mustBind("listen_addr", "TUTOR_LISTEN_ADDR")
	mustBind("cors_origins", "TUTOR_CORS_ORIGINS")
	mustBind("trust_proxy", "TUTOR_TRUST_PROXY")
	mustBind("rate_burst", "TUTOR_RATE_BURST")
	mustBind("model_name", "TUTOR_MODEL_NAME")
	mustBind("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}
