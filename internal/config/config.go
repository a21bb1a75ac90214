package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	HTTP      HTTPConfig
	Log       LogConfig
	LLM       LLMConfig
	Serper    SerperConfig
	Telemetry TelemetryConfig
	Enrich    EnrichConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// LLMConfig selects and parameterizes the language model backend.
// Provider is "gemini" or "ollama".
type LLMConfig struct {
	Provider string

	GeminiAPIKey string
	GeminiModel  string

	OllamaURL   string
	OllamaModel string

	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type SerperConfig struct {
	APIKey   string
	Endpoint string
	Country  string
	Language string

	RequestsPerMinute int
	Timeout           time.Duration
	MaxRetries        int
}

type TelemetryConfig struct {
	Enabled  bool
	RedisURL string
	Stream   string
	MaxLen   int64
}

type EnrichConfig struct {
	Enabled        bool
	MaxPages       int
	MaxConcurrency int
	Timeout        time.Duration
}

func LoadConfig() (*Config, error) {
	// Missing .env is fine in containerized deployments where env vars come from the runtime.
	_ = godotenv.Load()

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	searchRPM, err := getEnvInt("SERPER_REQUESTS_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}

	searchRetries, err := getEnvInt("SERPER_MAX_RETRIES", 2)
	if err != nil {
		return nil, err
	}

	enrichPages, err := getEnvInt("ENRICH_MAX_PAGES", 3)
	if err != nil {
		return nil, err
	}

	telemetryMaxLen, err := getEnvInt("TELEMETRY_STREAM_MAXLEN", 4096)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         port,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "json"),
			Output:   getEnv("LOG_OUTPUT", "stdout"),
			FilePath: getEnv("LOG_FILE_PATH", "logs/engine.log"),
		},
		LLM: LLMConfig{
			Provider:     getEnv("LLM_PROVIDER", "gemini"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			OllamaURL:    getEnv("OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:  getEnv("OLLAMA_MODEL", "llama3.1"),
			MaxRetries:   maxRetries,
			RetryDelay:   2 * time.Second,
			Timeout:      90 * time.Second,
		},
		Serper: SerperConfig{
			APIKey:            os.Getenv("SERPER_API_KEY"),
			Endpoint:          getEnv("SERPER_ENDPOINT", "https://google.serper.dev/search"),
			Country:           getEnv("SERPER_COUNTRY", "us"),
			Language:          getEnv("SERPER_LANGUAGE", "en"),
			RequestsPerMinute: searchRPM,
			Timeout:           20 * time.Second,
			MaxRetries:        searchRetries,
		},
		Telemetry: TelemetryConfig{
			Enabled:  getEnvBool("TELEMETRY_ENABLED", false),
			RedisURL: getEnv("TELEMETRY_REDIS_URL", "redis://localhost:6379/0"),
			Stream:   getEnv("TELEMETRY_STREAM", "research:events"),
			MaxLen:   int64(telemetryMaxLen),
		},
		Enrich: EnrichConfig{
			Enabled:        getEnvBool("ENRICH_ENABLED", false),
			MaxPages:       enrichPages,
			MaxConcurrency: 2,
			Timeout:        25 * time.Second,
		},
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("Error parsing %s : %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
