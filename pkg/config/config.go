// Package config loads node configuration from the environment and verifies
// the running build against an operator-approved profile at startup.
package config

import (
	"os"
	"strconv"
)

// Version is the fabric build version checked against approved profiles.
const Version = "1.2.0"

// Config holds node configuration.
type Config struct {
	NodeID         string
	LogLevel       string
	StoreBackend   string // "memory", "sqlite", "postgres", "redis"
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	ProfilePath    string
	OTLPEndpoint   string
	WorkerCount    int
	DispatchPerSec float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	nodeID := os.Getenv("FABRIC_NODE_ID")
	if nodeID == "" {
		nodeID = "node-local"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "trustfabric.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://trustfabric@localhost:5432/trustfabric?sslmode=disable"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	return &Config{
		NodeID:         nodeID,
		LogLevel:       logLevel,
		StoreBackend:   backend,
		SQLitePath:     sqlitePath,
		DatabaseURL:    dbURL,
		RedisAddr:      redisAddr,
		ProfilePath:    os.Getenv("APPROVED_PROFILE"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		WorkerCount:    envInt("FABRIC_WORKER_COUNT", 8),
		DispatchPerSec: envFloat("FABRIC_DISPATCH_RATE", 64),
	}
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
