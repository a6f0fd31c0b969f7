package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Gateway  GatewayConfig
	Poller   PollerConfig
	Accounts AccountsConfig
	Proofs   ProofsConfig
	Receipts ReceiptsConfig
	Worker   WorkerConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatewayConfig points at the external payment provider.
type GatewayConfig struct {
	BaseURL     string
	SecretKey   string
	ReturnURL   string
	CallTimeout time.Duration
}

// PollerConfig tunes the reconciliation loop. The defaults implement the
// 5-attempt, 1-second schedule with a 30-second absolute ceiling.
type PollerConfig struct {
	Attempts int
	Interval time.Duration
	Ceiling  time.Duration
}

// AccountsConfig points at the account provisioning service.
type AccountsConfig struct {
	BaseURL     string
	APIKey      string
	CallTimeout time.Duration
}

// ProofsConfig controls proof-of-payment storage and signed downloads.
type ProofsConfig struct {
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
}

// ReceiptsConfig toggles settlement receipt generation.
type ReceiptsConfig struct {
	Enabled    bool
	StorageDir string
	SchoolName string
}

// WorkerConfig tunes the background reconciliation queue.
type WorkerConfig struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// CacheConfig governs enrollment read caching.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:     v.GetString("GATEWAY_BASE_URL"),
		SecretKey:   v.GetString("GATEWAY_SECRET_KEY"),
		ReturnURL:   v.GetString("GATEWAY_RETURN_URL"),
		CallTimeout: parseDuration(v.GetString("GATEWAY_CALL_TIMEOUT"), 15*time.Second),
	}

	cfg.Poller = PollerConfig{
		Attempts: v.GetInt("POLLER_ATTEMPTS"),
		Interval: parseDuration(v.GetString("POLLER_INTERVAL"), time.Second),
		Ceiling:  parseDuration(v.GetString("POLLER_CEILING"), 30*time.Second),
	}

	cfg.Accounts = AccountsConfig{
		BaseURL:     v.GetString("ACCOUNTS_BASE_URL"),
		APIKey:      v.GetString("ACCOUNTS_API_KEY"),
		CallTimeout: parseDuration(v.GetString("ACCOUNTS_CALL_TIMEOUT"), 10*time.Second),
	}

	maxProofSize := v.GetInt64("PROOFS_MAX_FILE_SIZE")
	if maxProofSize <= 0 {
		maxProofSize = 5 * 1024 * 1024
	}
	cfg.Proofs = ProofsConfig{
		StorageDir:       v.GetString("PROOFS_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("PROOFS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("PROOFS_SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes: maxProofSize,
	}

	cfg.Receipts = ReceiptsConfig{
		Enabled:    v.GetBool("ENABLE_RECEIPTS"),
		StorageDir: v.GetString("RECEIPTS_STORAGE_DIR"),
		SchoolName: v.GetString("RECEIPTS_SCHOOL_NAME"),
	}

	cfg.Worker = WorkerConfig{
		Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		MaxRetries:  v.GetInt("WORKER_MAX_RETRIES"),
		RetryDelay:  parseDuration(v.GetString("WORKER_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "eduops_enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATEWAY_BASE_URL", "https://api.paymongo.com/v1")
	v.SetDefault("GATEWAY_SECRET_KEY", "")
	v.SetDefault("GATEWAY_RETURN_URL", "http://localhost:8080/payments/return")
	v.SetDefault("GATEWAY_CALL_TIMEOUT", "15s")

	v.SetDefault("POLLER_ATTEMPTS", 5)
	v.SetDefault("POLLER_INTERVAL", "1s")
	v.SetDefault("POLLER_CEILING", "30s")

	v.SetDefault("ACCOUNTS_BASE_URL", "http://localhost:4000")
	v.SetDefault("ACCOUNTS_API_KEY", "")
	v.SetDefault("ACCOUNTS_CALL_TIMEOUT", "10s")

	v.SetDefault("PROOFS_STORAGE_DIR", "./proofs")
	v.SetDefault("PROOFS_SIGNED_URL_SECRET", "dev_proofs_secret")
	v.SetDefault("PROOFS_SIGNED_URL_TTL", "30m")
	v.SetDefault("PROOFS_MAX_FILE_SIZE", 5*1024*1024)

	v.SetDefault("ENABLE_RECEIPTS", true)
	v.SetDefault("RECEIPTS_STORAGE_DIR", "./receipts")
	v.SetDefault("RECEIPTS_SCHOOL_NAME", "EduOps Academy")

	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("WORKER_MAX_RETRIES", 3)
	v.SetDefault("WORKER_RETRY_DELAY", "2s")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "5m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
