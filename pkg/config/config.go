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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Retention RetentionConfig
	Privacy   PrivacyConfig
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
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RetentionConfig governs the scheduled cleanup sweeps.
type RetentionConfig struct {
	Enabled        bool
	DailySchedule  string
	WeeklySchedule string
}

// PrivacyConfig tunes export artifact storage and workflow windows.
type PrivacyConfig struct {
	StorageDir        string
	SignedURLSecret   string
	ExportValidity    time.Duration
	StatusCacheTTL    time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	BaseURL           string
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

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Retention = RetentionConfig{
		Enabled:        v.GetBool("RETENTION_ENABLED"),
		DailySchedule:  v.GetString("RETENTION_DAILY_SCHEDULE"),
		WeeklySchedule: v.GetString("RETENTION_WEEKLY_SCHEDULE"),
	}

	cfg.Privacy = PrivacyConfig{
		StorageDir:        v.GetString("PRIVACY_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("PRIVACY_SIGNED_URL_SECRET"),
		ExportValidity:    parseDuration(v.GetString("PRIVACY_EXPORT_VALIDITY"), 7*24*time.Hour),
		StatusCacheTTL:    parseDuration(v.GetString("PRIVACY_STATUS_CACHE_TTL"), 5*time.Minute),
		WorkerConcurrency: v.GetInt("PRIVACY_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("PRIVACY_WORKER_RETRIES"),
		BaseURL:           v.GetString("PRIVACY_BASE_URL"),
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
	v.SetDefault("DB_NAME", "vantage_crm")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RETENTION_ENABLED", true)
	v.SetDefault("RETENTION_DAILY_SCHEDULE", "0 2 * * *")
	v.SetDefault("RETENTION_WEEKLY_SCHEDULE", "0 3 * * 0")

	v.SetDefault("PRIVACY_STORAGE_DIR", "./exports")
	v.SetDefault("PRIVACY_SIGNED_URL_SECRET", "dev_privacy_secret")
	v.SetDefault("PRIVACY_EXPORT_VALIDITY", "168h")
	v.SetDefault("PRIVACY_STATUS_CACHE_TTL", "5m")
	v.SetDefault("PRIVACY_WORKER_CONCURRENCY", 2)
	v.SetDefault("PRIVACY_WORKER_RETRIES", 3)
	v.SetDefault("PRIVACY_BASE_URL", "http://localhost:8080")
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
