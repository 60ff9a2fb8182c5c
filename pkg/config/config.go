package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage providers understood by the object store factory.
const (
	StorageProviderS3    = "s3"
	StorageProviderLocal = "local"
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
	Storage  StorageConfig
	Uploads  UploadConfig
	Plans    PlansConfig
	Sweeper  SweeperConfig
	Reports  ReportsConfig
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
	QuotaTTL time.Duration
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects and configures the object store provider.
type StorageConfig struct {
	Provider string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	LocalDir        string
	PublicBaseURL   string
	SignedURLSecret string

	UploadURLTTL   time.Duration
	PartURLTTL     time.Duration
	DownloadURLTTL time.Duration
}

// UploadConfig tunes the presigned upload protocol.
type UploadConfig struct {
	KeyFolder          string
	MultipartThreshold int64
	ChunkSize          int64
}

// PlanLimitsConfig holds the per-plan quota constants.
type PlanLimitsConfig struct {
	MaxStorage       int64
	MaxFiles         int
	MaxFileSize      int64
	DailyUploadLimit int64
	AllowedMIMEs     []string
}

// PlansConfig carries free-tier defaults and the pro-tier overrides.
type PlansConfig struct {
	Free PlanLimitsConfig
	Pro  PlanLimitsConfig
}

// SweeperConfig controls the reconciliation sweeper.
type SweeperConfig struct {
	Enabled        bool
	Interval       time.Duration
	StaleAfter     time.Duration
	Retention      time.Duration
	BatchSize      int
	FixAllocations bool
	LockKey        string
}

// ReportsConfig controls tenant usage report exports.
type ReportsConfig struct {
	Enabled bool
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		QuotaTTL: parseDuration(v.GetString("QUOTA_CACHE_TTL"), time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Provider:        strings.ToLower(v.GetString("STORAGE_PROVIDER")),
		S3Endpoint:      v.GetString("S3_ENDPOINT"),
		S3Region:        v.GetString("S3_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3AccessKey:     v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:     v.GetString("S3_SECRET_KEY"),
		S3UsePathStyle:  v.GetBool("S3_USE_PATH_STYLE"),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		PublicBaseURL:   strings.TrimRight(v.GetString("STORAGE_PUBLIC_BASE_URL"), "/"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		UploadURLTTL:    parseDuration(v.GetString("UPLOAD_URL_TTL"), 15*time.Minute),
		PartURLTTL:      parseDuration(v.GetString("PART_URL_TTL"), time.Hour),
		DownloadURLTTL:  parseDuration(v.GetString("DOWNLOAD_URL_TTL"), 10*time.Minute),
	}

	cfg.Uploads = UploadConfig{
		KeyFolder:          v.GetString("UPLOAD_KEY_FOLDER"),
		MultipartThreshold: parseBytes(v.GetString("MULTIPART_THRESHOLD"), 50*units.MiB),
		ChunkSize:          parseBytes(v.GetString("MULTIPART_CHUNK_SIZE"), 5*units.MiB),
	}

	cfg.Plans = PlansConfig{
		Free: loadPlan(v, "PLAN_", PlanLimitsConfig{}),
	}
	cfg.Plans.Pro = loadPlan(v, "PRO_PLAN_", cfg.Plans.Free)

	cfg.Sweeper = SweeperConfig{
		Enabled:        v.GetBool("SWEEPER_ENABLED"),
		Interval:       parseDuration(v.GetString("SWEEPER_INTERVAL"), time.Hour),
		StaleAfter:     parseDuration(v.GetString("SWEEPER_STALE_AFTER"), 24*time.Hour),
		Retention:      parseDuration(v.GetString("SWEEPER_RETENTION"), 7*24*time.Hour),
		BatchSize:      v.GetInt("SWEEPER_BATCH_SIZE"),
		FixAllocations: v.GetBool("SWEEPER_FIX_ALLOCATIONS"),
		LockKey:        v.GetString("SWEEPER_LOCK_KEY"),
	}

	cfg.Reports = ReportsConfig{
		Enabled: v.GetBool("ENABLE_USAGE_REPORTS"),
	}

	return cfg, nil
}

// loadPlan reads one plan's limits; unset keys inherit from fallback.
func loadPlan(v *viper.Viper, prefix string, fallback PlanLimitsConfig) PlanLimitsConfig {
	plan := PlanLimitsConfig{
		MaxStorage:       parseBytes(v.GetString(prefix+"MAX_STORAGE"), fallback.MaxStorage),
		MaxFiles:         v.GetInt(prefix + "MAX_FILES"),
		MaxFileSize:      parseBytes(v.GetString(prefix+"MAX_FILE_SIZE"), fallback.MaxFileSize),
		DailyUploadLimit: parseBytes(v.GetString(prefix+"DAILY_UPLOAD_LIMIT"), fallback.DailyUploadLimit),
		AllowedMIMEs:     splitAndTrim(v.GetString(prefix + "ALLOWED_MIME_TYPES")),
	}
	if plan.MaxFiles <= 0 {
		plan.MaxFiles = fallback.MaxFiles
	}
	if len(plan.AllowedMIMEs) == 0 {
		plan.AllowedMIMEs = fallback.AllowedMIMEs
	}
	return plan
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "filevault")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("QUOTA_CACHE_TTL", "1m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "filevault")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_PROVIDER", StorageProviderLocal)
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "filevault")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_USE_PATH_STYLE", true)
	v.SetDefault("STORAGE_LOCAL_DIR", "./objects")
	v.SetDefault("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("UPLOAD_URL_TTL", "15m")
	v.SetDefault("PART_URL_TTL", "1h")
	v.SetDefault("DOWNLOAD_URL_TTL", "10m")

	v.SetDefault("UPLOAD_KEY_FOLDER", "uploads")
	v.SetDefault("MULTIPART_THRESHOLD", "50MiB")
	v.SetDefault("MULTIPART_CHUNK_SIZE", "5MiB")

	v.SetDefault("PLAN_MAX_STORAGE", "5GiB")
	v.SetDefault("PLAN_MAX_FILES", 100)
	v.SetDefault("PLAN_MAX_FILE_SIZE", "100MiB")
	v.SetDefault("PLAN_DAILY_UPLOAD_LIMIT", "1GiB")
	v.SetDefault("PLAN_ALLOWED_MIME_TYPES", "application/pdf,text/plain,text/csv,application/zip,application/msword,application/vnd.openxmlformats-officedocument.wordprocessingml.document,application/vnd.ms-excel,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,video/mp4,video/quicktime,audio/mpeg")
	v.SetDefault("PRO_PLAN_MAX_STORAGE", "100GiB")
	v.SetDefault("PRO_PLAN_MAX_FILES", 10000)
	v.SetDefault("PRO_PLAN_MAX_FILE_SIZE", "5GiB")
	v.SetDefault("PRO_PLAN_DAILY_UPLOAD_LIMIT", "20GiB")

	v.SetDefault("SWEEPER_ENABLED", true)
	v.SetDefault("SWEEPER_INTERVAL", "1h")
	v.SetDefault("SWEEPER_STALE_AFTER", "24h")
	v.SetDefault("SWEEPER_RETENTION", "168h")
	v.SetDefault("SWEEPER_BATCH_SIZE", 100)
	v.SetDefault("SWEEPER_FIX_ALLOCATIONS", false)
	v.SetDefault("SWEEPER_LOCK_KEY", "sweeper:lock")

	v.SetDefault("ENABLE_USAGE_REPORTS", true)
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

// parseBytes accepts binary sizes such as "5GiB", "100MB" or plain byte counts.
func parseBytes(raw string, fallback int64) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	n, err := units.RAMInBytes(raw)
	if err != nil || n <= 0 {
		return fallback
	}

	return n
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
