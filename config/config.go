package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dearplant/dearplant/models"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Orchestrator  OrchestratorConfig
	Health        HealthConfig
	Cache         CacheConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig
	Environment   string

	// ProvidersFile is the JSON file holding the provider registry
	ProvidersFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// OrchestratorConfig bounds the invocation pipeline
type OrchestratorConfig struct {
	DefaultTimeout time.Duration
	AttemptTimeout time.Duration
	AcquireWait    time.Duration
}

// HealthConfig holds the default circuit breaker thresholds. Per-provider
// settings in the registry file override these.
type HealthConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	LatencyAlpha     float64
	SuccessAlpha     float64
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	SweepInterval time.Duration
}

// LedgerConfig holds the usage ledger worker settings
type LedgerConfig struct {
	BufferSize  int
	WorkerCount int
	StopTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			DefaultTimeout: getEnvAsDuration("INVOKE_DEFAULT_TIMEOUT", 30*time.Second),
			AttemptTimeout: getEnvAsDuration("INVOKE_ATTEMPT_TIMEOUT", 10*time.Second),
			AcquireWait:    getEnvAsDuration("INVOKE_ACQUIRE_WAIT", 2*time.Second),
		},
		Health: HealthConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			Window:           getEnvAsDuration("BREAKER_WINDOW", 60*time.Second),
			Cooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
			LatencyAlpha:     getEnvAsFloat("HEALTH_LATENCY_ALPHA", 0.3),
			SuccessAlpha:     getEnvAsFloat("HEALTH_SUCCESS_ALPHA", 0.1),
		},
		Cache: CacheConfig{
			SweepInterval: getEnvAsDuration("CACHE_SWEEP_INTERVAL", 1*time.Minute),
		},
		Ledger: LedgerConfig{
			BufferSize:  getEnvAsInt("LEDGER_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("LEDGER_WORKER_COUNT", 5),
			StopTimeout: getEnvAsDuration("LEDGER_STOP_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.json"),
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.ProvidersFile == "" {
		return fmt.Errorf("providers file is required: set PROVIDERS_FILE")
	}
	if c.Orchestrator.DefaultTimeout <= 0 {
		return fmt.Errorf("invoke default timeout must be positive")
	}
	if c.Orchestrator.AttemptTimeout <= 0 {
		return fmt.Errorf("invoke attempt timeout must be positive")
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Health.LatencyAlpha <= 0 || c.Health.LatencyAlpha > 1 {
		return fmt.Errorf("health latency alpha must be in (0, 1]")
	}
	if c.Health.SuccessAlpha <= 0 || c.Health.SuccessAlpha > 1 {
		return fmt.Errorf("health success alpha must be in (0, 1]")
	}
	if c.Ledger.BufferSize <= 0 || c.Ledger.WorkerCount <= 0 {
		return fmt.Errorf("ledger buffer size and worker count must be positive")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// LoadRegistry reads the provider registry file. The result feeds a
// registry reload, which does its own validation.
func (c *Config) LoadRegistry() (models.RegistryConfig, error) {
	var cfg models.RegistryConfig

	data, err := os.ReadFile(c.ProvidersFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to read providers file %s: %w", c.ProvidersFile, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse providers file %s: %w", c.ProvidersFile, err)
	}
	return cfg, nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
