package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port            string
	Env             string
	JWTSecret       string
	PublicBaseURL   string
	InternalBaseURL string
	CORSOrigins     []string
	MigrationsPath  string

	DB      DatabaseConfig
	Redis   RedisConfig
	Gateway GatewayConfig
	Payment PaymentConfig
	Sync    SyncConfig
	Kafka   KafkaConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// GatewayConfig contains credentials and endpoints for the payment gateway.
type GatewayConfig struct {
	Env              string // sandbox or production
	Key              string
	Salt             string
	InitiateURL      string
	PayURL           string
	RetrieveURL      string
	Timeout          time.Duration
	RequestSequence  string
	ResponseSequence string
	RetrieveSequence string
}

// PaymentConfig contains payment entry point behaviour.
type PaymentConfig struct {
	EnforceAuth   bool
	StatusPageURL string
	CronSecret    string
}

// SyncConfig bounds the pending payment reconciliation job.
type SyncConfig struct {
	DefaultBatchSize    int
	MaxBatchSize        int
	DefaultScanPageSize int
	MaxScanPageSize     int
	Concurrency         int
	Interval            time.Duration
}

// KafkaConfig contains the notification event stream settings.
type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsProduction reports whether the gateway runs against live endpoints.
func (g GatewayConfig) IsProduction() bool {
	return g.Env == "production"
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.PublicBaseURL = strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/")
	cfg.InternalBaseURL = strings.TrimSuffix(getEnv("INTERNAL_BASE_URL", "http://127.0.0.1:"+cfg.Port), "/")
	cfg.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", "file://migrations")

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// Gateway (sandbox endpoints unless GATEWAY_ENV=production)
	gatewayEnv := getEnv("GATEWAY_ENV", "sandbox")
	endpoints := easebuzz.DefaultEndpoints(gatewayEnv == "production")
	cfg.Gateway = GatewayConfig{
		Env:              gatewayEnv,
		Key:              getEnv("GATEWAY_KEY", ""),
		Salt:             getEnv("GATEWAY_SALT", ""),
		InitiateURL:      getEnv("GATEWAY_INITIATE_URL", endpoints.InitiateURL),
		PayURL:           getEnv("GATEWAY_PAY_URL", endpoints.PayURL),
		RetrieveURL:      getEnv("GATEWAY_RETRIEVE_URL", endpoints.RetrieveURL),
		RequestSequence:  getEnv("GATEWAY_REQUEST_HASH_SEQUENCE", ""),
		ResponseSequence: getEnv("GATEWAY_RESPONSE_HASH_SEQUENCE", ""),
		RetrieveSequence: getEnv("GATEWAY_RETRIEVE_HASH_SEQUENCE", ""),
	}

	// Payment
	cfg.Payment = PaymentConfig{
		EnforceAuth:   getEnvBool("PAYMENT_ENFORCE_AUTH", false),
		StatusPageURL: getEnv("PAYMENT_STATUS_PAGE_URL", ""),
		CronSecret:    getEnv("CRON_SECRET", ""),
	}

	// Sync
	cfg.Sync = SyncConfig{
		DefaultBatchSize:    getEnvInt("SYNC_DEFAULT_BATCH_SIZE", 25),
		MaxBatchSize:        getEnvInt("SYNC_MAX_BATCH_SIZE", 100),
		DefaultScanPageSize: getEnvInt("SYNC_DEFAULT_SCAN_PAGE_SIZE", 200),
		MaxScanPageSize:     getEnvInt("SYNC_MAX_SCAN_PAGE_SIZE", 500),
		Concurrency:         getEnvInt("RECONCILE_CONCURRENCY", 8),
	}

	// Kafka
	cfg.Kafka = KafkaConfig{
		Brokers:           getEnvList("KAFKA_BROKERS", ""),
		NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "payment.notifications"),
	}

	// Durations
	var err error
	if cfg.Gateway.Timeout, err = parseDurationEnv("GATEWAY_TIMEOUT", "15s"); err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	if cfg.Redis.LockTTL, err = parseDurationEnv("RECONCILE_LOCK_TTL", "30s"); err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_LOCK_TTL: %w", err)
	}
	if cfg.Sync.Interval, err = parseDurationEnv("PENDING_SYNC_INTERVAL", "0s"); err != nil {
		return nil, fmt.Errorf("invalid PENDING_SYNC_INTERVAL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Basic validation for DB parameters
	if c.DB.Host == "" || c.DB.User == "" || c.DB.Name == "" {
		return errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set for authentication")
	}
	if c.Gateway.Env != "sandbox" && c.Gateway.Env != "production" {
		return fmt.Errorf("GATEWAY_ENV must be sandbox or production, got %q", c.Gateway.Env)
	}
	if (c.IsProduction() || c.Gateway.IsProduction()) && (c.Gateway.Key == "" || c.Gateway.Salt == "") {
		return errors.New("GATEWAY_KEY and GATEWAY_SALT must be set in production")
	}
	if c.Sync.DefaultBatchSize <= 0 || c.Sync.MaxBatchSize < c.Sync.DefaultBatchSize {
		return errors.New("SYNC_DEFAULT_BATCH_SIZE must be positive and not exceed SYNC_MAX_BATCH_SIZE")
	}
	if c.Sync.DefaultScanPageSize <= 0 || c.Sync.MaxScanPageSize < c.Sync.DefaultScanPageSize {
		return errors.New("SYNC_DEFAULT_SCAN_PAGE_SIZE must be positive and not exceed SYNC_MAX_SCAN_PAGE_SIZE")
	}
	if c.Sync.Concurrency <= 0 {
		return errors.New("RECONCILE_CONCURRENCY must be positive")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvBool accepts the strconv.ParseBool spellings; anything else yields def.
func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key, def string) []string {
	raw := getEnv(key, def)
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
