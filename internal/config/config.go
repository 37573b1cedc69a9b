package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort  string
	SecretKey string
	LogLevel  string

	// EncryptionKey is an optional base64 AES key for credential secrets.
	// When empty the key is derived from SecretKey.
	EncryptionKey string

	Database     DatabaseConfig
	Cache        CacheConfig
	Redis        RedisConfig
	Upstream     UpstreamConfig
	Quota        QuotaConfig
	RateLimit    RateLimitConfig
	UsageQueue   UsageQueueConfig
	UsageArchive UsageArchiveConfig

	// OAuth is shared by reference so that admin updates are visible to
	// every component holding the config.
	OAuth *OAuthSettings
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	OwnerCacheSize int
	OwnerCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// UpstreamConfig holds the provider endpoints and per-call timeouts.
type UpstreamConfig struct {
	GeminiBaseURL  string
	ClaudeProxyURL string
	TokenURL       string
	ChatTimeout    time.Duration
	RefreshTimeout time.Duration
	VerifyTimeout  time.Duration
	RefreshMargin  time.Duration
	GeminiModels   []string
	ClaudeModels   []string
}

// QuotaConfig holds the daily quota defaults and the donation reward.
type QuotaConfig struct {
	DefaultDaily int
	RewardClaude int
	RewardGemini int
}

// Reward is the ceiling increase granted for one donated credential.
func (q QuotaConfig) Reward() int {
	return q.RewardClaude + q.RewardGemini
}

// RateLimitConfig holds per-minute request limits for callers.
type RateLimitConfig struct {
	BaseRPM        int
	ContributorRPM int
}

// UsageQueueConfig controls the asynchronous usage record pipeline.
type UsageQueueConfig struct {
	UseRedis     bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// UsageArchiveConfig holds configuration for the optional S3 usage archive
type UsageArchiveConfig struct {
	Enabled  bool
	S3Bucket string
	S3Region string
	S3Prefix string
	PodName  string // Pod identifier for multi-pod deployments
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	items := lo.Map(strings.Split(val, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(items)
}

var (
	defaultGeminiModels = []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-3-pro-preview",
	}
	defaultClaudeModels = []string{
		"claude-sonnet-4-5",
		"claude-sonnet-4-5-thinking",
		"claude-opus-4-5-thinking",
	}
)

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the process win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	secretKey := os.Getenv("SECRET_KEY")
	if secretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}

	dbURL := getEnvString("DATABASE_URL", "sqlite://pool_gateway.db")

	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "8080"),
		SecretKey:     secretKey,
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		EncryptionKey: getEnvString("ENCRYPTION_KEY", ""),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			OwnerCacheSize: getEnvInt("CACHE_OWNER_SIZE", 1000),
			OwnerCacheTTL:  getEnvDuration("CACHE_OWNER_TTL", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Upstream: UpstreamConfig{
			GeminiBaseURL:  getEnvString("GEMINI_API_BASE", "https://cloudcode-pa.googleapis.com/v1internal"),
			ClaudeProxyURL: getEnvString("CLAUDE_PROXY_BASE", "http://127.0.0.1:8045/v1"),
			TokenURL:       getEnvString("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			ChatTimeout:    getEnvDuration("CHAT_TIMEOUT", 300*time.Second),
			RefreshTimeout: getEnvDuration("REFRESH_TIMEOUT", 30*time.Second),
			VerifyTimeout:  getEnvDuration("VERIFY_TIMEOUT", 30*time.Second),
			RefreshMargin:  getEnvDuration("REFRESH_MARGIN", 5*time.Minute),
			GeminiModels:   getEnvList("MODELS_GEMINI", defaultGeminiModels),
			ClaudeModels:   getEnvList("MODELS_CLAUDE", defaultClaudeModels),
		},
		Quota: QuotaConfig{
			DefaultDaily: getEnvInt("DEFAULT_DAILY_QUOTA", 100),
			RewardClaude: getEnvInt("QUOTA_REWARD_CLAUDE", 500),
			RewardGemini: getEnvInt("QUOTA_REWARD_GEMINI", 300),
		},
		RateLimit: RateLimitConfig{
			BaseRPM:        getEnvInt("BASE_RPM", 5),
			ContributorRPM: getEnvInt("CONTRIBUTOR_RPM", 10),
		},
		UsageQueue: UsageQueueConfig{
			UseRedis:     getEnvBool("USAGE_QUEUE_REDIS", false),
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		UsageArchive: UsageArchiveConfig{
			Enabled:  getEnvBool("USAGE_ARCHIVE_ENABLED", false),
			S3Bucket: getEnvString("USAGE_ARCHIVE_S3_BUCKET", ""),
			S3Region: getEnvString("USAGE_ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix: getEnvString("USAGE_ARCHIVE_S3_PREFIX", "usage/"),
			PodName:  getEnvString("POD_NAME", "gateway-0"),
		},
		OAuth: NewOAuthSettings(OAuthClient{
			ClientID:     getEnvString("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnvString("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnvString("GOOGLE_REDIRECT_URI", "http://localhost:8080"),
		}),
	}

	if cfg.UsageArchive.Enabled && cfg.UsageArchive.S3Bucket == "" {
		return nil, fmt.Errorf("USAGE_ARCHIVE_S3_BUCKET is required when the usage archive is enabled")
	}

	return cfg, nil
}
