package common

import (
	"os"
	"strconv"
	"time"

	"github.com/promptsheet/promptsheet/constants"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	OpenAI    ProviderConfig
	Anthropic AnthropicConfig
	Gemini    ProviderConfig
	Ollama    ProviderConfig
}

// DatabaseConfig holds job store configuration. When DSN is empty the store
// falls back to a local SQLite file.
type DatabaseConfig struct {
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// ProviderConfig holds per-backend configuration shared by all providers.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

// AnthropicConfig adds the token-per-minute ceiling on top of the common
// provider fields.
type AnthropicConfig struct {
	ProviderConfig
	TokensPerMinute int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", "./promptsheet.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			CORSOrigins:     []string{getEnv("CORS_ORIGIN", "*")},
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OpenAI: ProviderConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			VisionModel: getEnv("OPENAI_VISION_MODEL", "gpt-4o"),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Anthropic: AnthropicConfig{
			ProviderConfig: ProviderConfig{
				APIKey:      getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:     getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:       getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
				VisionModel: getEnv("ANTHROPIC_VISION_MODEL", "claude-3-5-sonnet-latest"),
				Timeout:     getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
			TokensPerMinute: getEnvAsInt("ANTHROPIC_TOKENS_PER_MINUTE", 80000),
		},
		Gemini: ProviderConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout: getEnvAsDuration("GEMINI_TIMEOUT", 45*time.Second),
		},
		Ollama: ProviderConfig{
			BaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			Model:   getEnv("OLLAMA_MODEL", "llama3.1"),
			Timeout: getEnvAsDuration("OLLAMA_TIMEOUT", 120*time.Second),
		},
	}
}

// VisionModelFor returns the configured vision model for a backend, or ""
// when the backend has none. Prompt-level vision models take precedence over
// this run-level default.
func (c *Config) VisionModelFor(p constants.Provider) string {
	switch p {
	case constants.ProviderOpenAI:
		return c.OpenAI.VisionModel
	case constants.ProviderAnthropic:
		return c.Anthropic.VisionModel
	case constants.ProviderGemini:
		return c.Gemini.VisionModel
	case constants.ProviderOllama:
		return c.Ollama.VisionModel
	}
	return ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.OpenAI.APIKey == "" && c.Anthropic.APIKey == "" && c.Gemini.APIKey == "" && c.Ollama.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "at least one provider must be configured", ErrInvalidInput)
	}
	return nil
}
