package config

import (
	"errors"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		ModelName:     DefaultModelName,
		EmbedderModel: DefaultEmbedderModel,
		Temperature:   0.2,
		RAG: RAGConfig{
			TopK:                5,
			ScoreThreshold:      0.7,
			ContextBudgetTokens: 2000,
			SelectedTextTokens:  1000,
			InputTokenCeiling:   4000,
			MaxAnswerTokens:     1000,
			RetrievalTimeout:    2 * time.Second,
			GenerationTimeout:   2500 * time.Millisecond,
		},
		Limits: LimitsConfig{
			QuestionsPerHour:       20,
			PersonalizationsPerDay: 5,
			TranslationsPerDay:     5,
			DailyTokenBudget:       2_000_000,
		},
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "tutor",
		PostgresPassword: "secure_password_123",
		PostgresDBName:   "tutor",
		PostgresSSLMode:  "disable",
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"top_k zero", func(c *Config) { c.RAG.TopK = 0 }, ErrInvalidTopK},
		{"top_k too large", func(c *Config) { c.RAG.TopK = 11 }, ErrInvalidTopK},
		{"threshold above one", func(c *Config) { c.RAG.ScoreThreshold = 1.1 }, ErrInvalidThreshold},
		{"context budget too small", func(c *Config) { c.RAG.ContextBudgetTokens = 50 }, ErrInvalidBudget},
		{"selected text budget too small", func(c *Config) { c.RAG.SelectedTextTokens = 50 }, ErrInvalidBudget},
		{"ceiling below context budget", func(c *Config) { c.RAG.InputTokenCeiling = 1000 }, ErrInvalidBudget},
		{"zero answer tokens", func(c *Config) { c.RAG.MaxAnswerTokens = 0 }, ErrInvalidBudget},
		{"retrieval timeout too short", func(c *Config) { c.RAG.RetrievalTimeout = 50 * time.Millisecond }, ErrInvalidTimeout},
		{"generation timeout too long", func(c *Config) { c.RAG.GenerationTimeout = time.Minute }, ErrInvalidTimeout},
		{"zero question quota", func(c *Config) { c.Limits.QuestionsPerHour = 0 }, ErrInvalidLimit},
		{"zero personalization quota", func(c *Config) { c.Limits.PersonalizationsPerDay = 0 }, ErrInvalidLimit},
		{"zero translation quota", func(c *Config) { c.Limits.TranslationsPerDay = 0 }, ErrInvalidLimit},
		{"zero token budget", func(c *Config) { c.Limits.DailyTokenBudget = 0 }, ErrInvalidLimit},
		{"empty host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"short password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("err = %v, want ErrConfigNil", err)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if err := validConfig().Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidateServe(t *testing.T) {
	cfg := validConfig()

	if err := cfg.ValidateServe(); !errors.Is(err, ErrMissingHMACSecret) {
		t.Errorf("err = %v, want ErrMissingHMACSecret", err)
	}

	cfg.HMACSecret = "too-short"
	if err := cfg.ValidateServe(); !errors.Is(err, ErrInvalidHMACSecret) {
		t.Errorf("err = %v, want ErrInvalidHMACSecret", err)
	}

	cfg.HMACSecret = "0123456789abcdef0123456789abcdef"
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("valid serve config rejected: %v", err)
	}
}
