package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret = "dev_secret"
)

// Upload storage drivers.
const (
	UploadDriverLocal = "local"
	UploadDriverGCS   = "gcs"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Admin    AdminConfig
	Login    LoginConfig
	CORS     CORSConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Uploads  UploadConfig
	Cleanup  CleanupConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// AdminConfig holds the credentials of the principal created on an empty user table.
type AdminConfig struct {
	Username string
	Password string
}

// LoginConfig bounds repeated failed logins per username.
type LoginConfig struct {
	MaxAttempts   int
	LockoutWindow time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// HTTPConfig tunes the server-level protections.
type HTTPConfig struct {
	RateLimitRPS          float64
	RateLimitBurst        int
	MaxConcurrentRequests int64
	RequestTimeout        time.Duration
	ShutdownTimeout       time.Duration
}

// UploadConfig controls where profile pictures are written.
type UploadConfig struct {
	Driver             string
	Dir                string
	PublicPath         string
	MaxFileSizeBytes   int64
	GCSBucket          string
	GCSCredentialsFile string
	GCSPublicBaseURL   string
}

// CleanupConfig sizes the background queue that removes orphaned uploads.
type CleanupConfig struct {
	Workers int
	Retries int
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 30*time.Minute),
	}

	cfg.Admin = AdminConfig{
		Username: v.GetString("ADMIN_USERNAME"),
		Password: v.GetString("ADMIN_PASSWORD"),
	}

	cfg.Login = LoginConfig{
		MaxAttempts:   v.GetInt("LOGIN_MAX_ATTEMPTS"),
		LockoutWindow: parseDuration(v.GetString("LOGIN_LOCKOUT_WINDOW"), 15*time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
		File:   v.GetString("LOG_FILE"),
	}

	cfg.HTTP = HTTPConfig{
		RateLimitRPS:          v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:        v.GetInt("RATE_LIMIT_BURST"),
		MaxConcurrentRequests: v.GetInt64("MAX_CONCURRENT_REQUESTS"),
		RequestTimeout:        parseDuration(v.GetString("REQUEST_TIMEOUT"), 15*time.Second),
		ShutdownTimeout:       parseDuration(v.GetString("SHUTDOWN_TIMEOUT"), 10*time.Second),
	}

	maxUpload := v.GetInt64("UPLOAD_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadConfig{
		Driver:             strings.ToLower(v.GetString("UPLOAD_DRIVER")),
		Dir:                v.GetString("UPLOAD_DIR"),
		PublicPath:         v.GetString("UPLOAD_PUBLIC_PATH"),
		MaxFileSizeBytes:   maxUpload,
		GCSBucket:          v.GetString("GCS_BUCKET"),
		GCSCredentialsFile: v.GetString("GCS_CREDENTIALS_FILE"),
		GCSPublicBaseURL:   v.GetString("GCS_PUBLIC_BASE_URL"),
	}

	cfg.Cleanup = CleanupConfig{
		Workers: v.GetInt("CLEANUP_WORKERS"),
		Retries: v.GetInt("CLEANUP_RETRIES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that are unsafe to serve with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.Env == EnvProduction && c.JWT.Secret == devJWTSecret {
		return errors.New("JWT_SECRET must be overridden in production")
	}
	if c.JWT.Expiration <= 0 {
		return errors.New("JWT_EXPIRATION must be positive")
	}
	if strings.TrimSpace(c.Admin.Username) == "" {
		return errors.New("ADMIN_USERNAME must not be empty")
	}
	switch c.Uploads.Driver {
	case UploadDriverLocal:
	case UploadDriverGCS:
		if c.Uploads.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required when UPLOAD_DRIVER=gcs")
		}
	default:
		return errors.New("UPLOAD_DRIVER must be local or gcs")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "enrollment-api")
	v.SetDefault("JWT_EXPIRATION", "30m")

	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "admin123")

	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_LOCKOUT_WINDOW", "15m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("MAX_CONCURRENT_REQUESTS", 256)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	v.SetDefault("UPLOAD_DRIVER", UploadDriverLocal)
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("UPLOAD_PUBLIC_PATH", "/uploads")
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("GCS_BUCKET", "")
	v.SetDefault("GCS_CREDENTIALS_FILE", "")
	v.SetDefault("GCS_PUBLIC_BASE_URL", "")

	v.SetDefault("CLEANUP_WORKERS", 1)
	v.SetDefault("CLEANUP_RETRIES", 3)
}

// viper reports a missing explicit config file as a plain fs error.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
