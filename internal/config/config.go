package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port     string
	DataRoot string // root of the per-user file tree (projects/<user>/...)

	MongoURI string
	RedisURL string

	AuditDBPath        string // SQLite promotion audit log
	PromotionRulesPath string // YAML promotion rules

	JWTSecret string

	// 32-byte hex key for per-user content encryption
	EncryptionMasterKey string

	// Promotion queue throttles
	MaxPendingJobsPerUser int
	MaxPromotionsPerHour  int

	// Background cadence
	PromotionWorkerInterval time.Duration
	IntegritySweepInterval  time.Duration
	AuditRetention          time.Duration

	ContextCacheTTL time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3001"),
		DataRoot: getEnv("DATA_ROOT", "./data"),

		MongoURI: getEnv("MONGODB_URI", ""),
		RedisURL: getEnv("REDIS_URL", ""),

		AuditDBPath:        getEnv("AUDIT_DB_PATH", "./data/promotion_audit.db"),
		PromotionRulesPath: getEnv("PROMOTION_RULES_PATH", "./config/promotion_rules.yaml"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		EncryptionMasterKey: getEnv("ENCRYPTION_MASTER_KEY", ""),

		MaxPendingJobsPerUser: getIntEnv("MAX_PENDING_PROMOTIONS", 50),
		MaxPromotionsPerHour:  getIntEnv("MAX_PROMOTIONS_PER_HOUR", 20),

		PromotionWorkerInterval: getDurationEnv("PROMOTION_WORKER_INTERVAL", 15*time.Second),
		IntegritySweepInterval:  getDurationEnv("INTEGRITY_SWEEP_INTERVAL", 5*time.Minute),
		AuditRetention:          getDurationEnv("AUDIT_RETENTION", 90*24*time.Hour),

		ContextCacheTTL: getDurationEnv("CONTEXT_CACHE_TTL", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
