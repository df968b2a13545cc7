// Package config loads the prover's runtime configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Addr     string
	LogLevel string
	DataDir  string

	// Store selects the state backend: sqlite, postgres, redis or memory.
	Store         string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DeploymentPath string
	CodeHash       string

	Engine           string
	EngineModule     string
	EngineVersion    string
	EngineConstraint string
	EngineMemoryMB   int

	ExecTimeout   time.Duration
	FetchTimeout  time.Duration
	BlockInterval time.Duration

	RateRPS   float64
	RateBurst int

	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dataDir := envOr("DATA_DIR", "data")

	return &Config{
		Addr:     envOr("PROVER_ADDR", ":8080"),
		LogLevel: envOr("LOG_LEVEL", "INFO"),
		DataDir:  dataDir,

		Store:         envOr("PROVER_STORE", "sqlite"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		DeploymentPath: os.Getenv("PROVER_DEPLOYMENT"),
		CodeHash:       os.Getenv("PROVER_CODE_HASH"),

		Engine:           envOr("PROVER_ENGINE", "jsvm"),
		EngineModule:     os.Getenv("PROVER_ENGINE_MODULE"),
		EngineVersion:    envOr("PROVER_ENGINE_VERSION", "1.0.0"),
		EngineConstraint: os.Getenv("PROVER_ENGINE_CONSTRAINT"),
		EngineMemoryMB:   envInt("PROVER_ENGINE_MEMORY_MB", 64),

		ExecTimeout:   envDuration("PROVER_EXEC_TIMEOUT", 10*time.Second),
		FetchTimeout:  envDuration("PROVER_FETCH_TIMEOUT", 10*time.Second),
		BlockInterval: envDuration("PROVER_BLOCK_INTERVAL", 6*time.Second),

		RateRPS:   envFloat("PROVER_RATE_RPS", 20),
		RateBurst: envInt("PROVER_RATE_BURST", 40),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring invalid integer", "key", key, "value", v)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: ignoring invalid number", "key", key, "value", v)
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("config: ignoring invalid duration", "key", key, "value", v)
		return def
	}
	return d
}
