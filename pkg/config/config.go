package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// LLM provider + judges
	LLM LLMConfig

	// Outbound call admission (shared across requests)
	Pool PoolConfig

	// Retry policy for generation and judge calls
	Retry RetryConfig

	// Report domain configuration
	Report ReportConfig

	// Observability sinks
	Sinks SinkConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// LLMConfig holds provider selection and credentials
type LLMConfig struct {
	Provider    string // openai, gemini, scripted
	Model       string
	JudgeModel  string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	ScriptPath  string // scripted provider: file with canned narratives
}

// PoolConfig bounds simultaneous outbound LLM/judge calls
type PoolConfig struct {
	MaxConcurrent int
	RatePerSecond float64
	Burst         int
	SharedLimit   int // redis sliding window, 0 disables
	SharedWindow  time.Duration
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Jitter         float64
}

// ReportConfig points at domain configuration files
type ReportConfig struct {
	ConfigPath    string
	TemplatesPath string
	TemplateStore string // file, postgres
	RequestBudget time.Duration
	Upstream      string // file, http, naver
	PayloadDir    string // file upstream source
	UpstreamURL   string // http upstream source
	Benchmark     string // naver upstream benchmark symbol
	Lookback      int    // naver upstream history, trading days
}

// SinkConfig selects observability sinks
type SinkConfig struct {
	Postgres    bool
	RedisStream string
	BufferSize  int
	Tracing     string // "", stdout, otlp

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "scripted"),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			JudgeModel:  getEnv("LLM_JUDGE_MODEL", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.3),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 1200),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", "60s"),
			ScriptPath:  getEnv("LLM_SCRIPT_PATH", ""),
		},

		Pool: PoolConfig{
			MaxConcurrent: getEnvAsInt("LLM_POOL_MAX_CONCURRENT", 8),
			RatePerSecond: getEnvAsFloat("LLM_POOL_RATE", 4),
			Burst:         getEnvAsInt("LLM_POOL_BURST", 4),
			SharedLimit:   getEnvAsInt("LLM_SHARED_LIMIT", 0),
			SharedWindow:  getEnvAsDuration("LLM_SHARED_WINDOW", "1m"),
		},

		Retry: RetryConfig{
			MaxRetries:     getEnvAsInt("RETRY_MAX", 2),
			InitialDelay:   getEnvAsDuration("RETRY_INITIAL_DELAY", "500ms"),
			MaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", "8s"),
			AttemptTimeout: getEnvAsDuration("RETRY_ATTEMPT_TIMEOUT", "45s"),
			Jitter:         getEnvAsFloat("RETRY_JITTER", 0.2),
		},

		Report: ReportConfig{
			ConfigPath:    getEnv("REPORT_CONFIG", "config/report.yaml"),
			TemplatesPath: getEnv("REPORT_TEMPLATES", "config/templates.yaml"),
			TemplateStore: getEnv("REPORT_TEMPLATE_STORE", "file"),
			RequestBudget: getEnvAsDuration("REPORT_REQUEST_BUDGET", "3m"),
			Upstream:      getEnv("UPSTREAM_SOURCE", "file"),
			PayloadDir:    getEnv("UPSTREAM_PAYLOAD_DIR", "data/payloads"),
			UpstreamURL:   getEnv("UPSTREAM_URL", ""),
			Benchmark:     getEnv("UPSTREAM_BENCHMARK", "KOSPI"),
			Lookback:      getEnvAsInt("UPSTREAM_LOOKBACK", 120),
		},

		Sinks: SinkConfig{
			Postgres:    getEnvAsBool("SINK_POSTGRES", false),
			RedisStream: getEnv("SINK_REDIS_STREAM", ""),
			BufferSize:  getEnvAsInt("SINK_BUFFER", 256),
			Tracing:     getEnv("TRACING", ""),

			OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure:     getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			TraceSampleRatio: getEnvAsFloat("OTEL_SAMPLER_RATIO", 1),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.LLM.Provider {
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for provider %s", c.LLM.Provider)
		}
	case "scripted":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of: openai, gemini, scripted")
	}

	// Postgres-backed components need a URL
	if (c.Sinks.Postgres || c.Report.TemplateStore == "postgres") && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when postgres sink or template store is enabled")
	}
	if c.Report.TemplateStore != "file" && c.Report.TemplateStore != "postgres" {
		return fmt.Errorf("REPORT_TEMPLATE_STORE must be one of: file, postgres")
	}
	switch c.Report.Upstream {
	case "file", "naver":
	case "http":
		if c.Report.UpstreamURL == "" {
			return fmt.Errorf("UPSTREAM_URL is required when UPSTREAM_SOURCE=http")
		}
	default:
		return fmt.Errorf("UPSTREAM_SOURCE must be one of: file, http, naver")
	}
	if c.Sinks.RedisStream != "" && !c.Redis.Enabled {
		return fmt.Errorf("SINK_REDIS_STREAM requires REDIS_ENABLED=true")
	}

	switch c.Sinks.Tracing {
	case "", "stdout":
	case "otlp":
		if c.Sinks.OTLPEndpoint == "" {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when TRACING=otlp")
		}
	default:
		return fmt.Errorf("TRACING must be one of: stdout, otlp (or empty)")
	}

	if c.Pool.MaxConcurrent < 1 {
		return fmt.Errorf("LLM_POOL_MAX_CONCURRENT must be >= 1")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX must be >= 0")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, 1]")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
