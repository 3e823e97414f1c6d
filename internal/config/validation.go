package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key (required for all AI operations; read by Genkit directly)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// RAG configuration
	if c.RAG.TopK < 1 || c.RAG.TopK > 10 {
		return fmt.Errorf("%w: must be between 1 and 10, got %d", ErrInvalidTopK, c.RAG.TopK)
	}
	if c.RAG.ScoreThreshold < 0 || c.RAG.ScoreThreshold > 1 {
		return fmt.Errorf("%w: must be between 0 and 1, got %.2f", ErrInvalidThreshold, c.RAG.ScoreThreshold)
	}
	if c.RAG.ContextBudgetTokens < 100 {
		return fmt.Errorf("%w: context_budget_tokens must be at least 100, got %d",
			ErrInvalidBudget, c.RAG.ContextBudgetTokens)
	}
	if c.RAG.SelectedTextTokens < 100 {
		return fmt.Errorf("%w: selected_text_tokens must be at least 100, got %d",
			ErrInvalidBudget, c.RAG.SelectedTextTokens)
	}
	if c.RAG.InputTokenCeiling < c.RAG.ContextBudgetTokens {
		return fmt.Errorf("%w: input_token_ceiling (%d) must not be below context_budget_tokens (%d)",
			ErrInvalidBudget, c.RAG.InputTokenCeiling, c.RAG.ContextBudgetTokens)
	}
	if c.RAG.MaxAnswerTokens < 1 {
		return fmt.Errorf("%w: max_answer_tokens must be positive, got %d",
			ErrInvalidBudget, c.RAG.MaxAnswerTokens)
	}
	if c.RAG.RetrievalTimeout < 100*time.Millisecond || c.RAG.RetrievalTimeout > 30*time.Second {
		return fmt.Errorf("%w: retrieval_timeout must be between 100ms and 30s, got %v",
			ErrInvalidTimeout, c.RAG.RetrievalTimeout)
	}
	if c.RAG.GenerationTimeout < 100*time.Millisecond || c.RAG.GenerationTimeout > 30*time.Second {
		return fmt.Errorf("%w: generation_timeout must be between 100ms and 30s, got %v",
			ErrInvalidTimeout, c.RAG.GenerationTimeout)
	}

	// Usage limits
	if c.Limits.QuestionsPerHour < 1 {
		return fmt.Errorf("%w: questions_per_hour must be positive, got %d",
			ErrInvalidLimit, c.Limits.QuestionsPerHour)
	}
	if c.Limits.PersonalizationsPerDay < 1 {
		return fmt.Errorf("%w: personalizations_per_day must be positive, got %d",
			ErrInvalidLimit, c.Limits.PersonalizationsPerDay)
	}
	if c.Limits.TranslationsPerDay < 1 {
		return fmt.Errorf("%w: translations_per_day must be positive, got %d",
			ErrInvalidLimit, c.Limits.TranslationsPerDay)
	}
	if c.Limits.DailyTokenBudget < 1 {
		return fmt.Errorf("%w: daily_token_budget must be positive, got %d",
			ErrInvalidLimit, c.Limits.DailyTokenBudget)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "tutor_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe performs the additional checks required in serve mode.
// The HMAC secret signs identity tokens; a short secret defeats it.
func (c *Config) ValidateServe() error {
	if c.HMACSecret == "" {
		return fmt.Errorf("%w: set the HMAC_SECRET environment variable (32+ bytes)", ErrMissingHMACSecret)
	}
	if len(c.HMACSecret) < 32 {
		return fmt.Errorf("%w: must be at least 32 bytes, got %d", ErrInvalidHMACSecret, len(c.HMACSecret))
	}
	return nil
}
