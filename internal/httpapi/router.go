package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pool_gateway/internal/auth"
	"pool_gateway/internal/config"
	"pool_gateway/internal/logging"
	"pool_gateway/internal/middleware"
	"pool_gateway/internal/oauth"
	"pool_gateway/internal/pool"
	"pool_gateway/internal/providers"
	"pool_gateway/internal/queue"
	"pool_gateway/internal/quota"
	"pool_gateway/internal/ratelimit"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/utils"
)

// oauthStateTTL bounds how long a consent round trip may take
const oauthStateTTL = 10 * time.Minute

// OAuthFlow is the identity provider surface used by the donation endpoints
type OAuthFlow interface {
	AuthURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth.Token, error)
	FetchEmail(ctx context.Context, accessToken string) (string, error)
	DiscoverProject(ctx context.Context, accessToken string) (string, error)
}

// CredentialVerifier decides which providers a submitted secret can serve
type CredentialVerifier interface {
	Verify(ctx context.Context, bundle storage.SecretBundle) (providers.Capabilities, error)
}

// HealthChecker is a backing service the health endpoint checks
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Config    *config.Config
	Pool      *pool.Pool
	Quota     *quota.Ledger
	RateLimit ratelimit.Limiter
	Usage     UsageSink
	Gemini    providers.Provider
	Claude    providers.Provider
	Verifier  CredentialVerifier
	OAuth     OAuthFlow
	States    oauth.StateStore
	Keys      *auth.KeyIssuer
	Owners    *storage.OwnerRepository
	UsageRepo *storage.UsageRepository

	// Backing services, checked by /health
	DB    *storage.DB
	Redis *storage.RedisClient

	// Queue worker for async usage records
	UsageWorker *storage.UsageQueueWorker

	logger *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		OwnerCacheSize:  cfg.Cache.OwnerCacheSize,
		OwnerCacheTTL:   cfg.Cache.OwnerCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := storage.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Address = cfg.Redis.Address
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	redisClient, err := storage.NewRedisClient(redisCfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	deps, err := NewDependencies(context.Background(), cfg, db, redisClient)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return mux, deps, nil
}

// NewDependencies builds the service graph on top of open database and
// Redis connections and starts the usage worker.
func NewDependencies(ctx context.Context, cfg *config.Config, db *storage.DB, redisClient *storage.RedisClient) (*Dependencies, error) {
	codec, err := newCodec(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	credentials := storage.NewCredentialRepository(db)
	owners := storage.NewOwnerRepository(db)
	ledger := quota.NewLedger(redisClient.Client(), owners)

	endpoints := oauth.DefaultEndpoints()
	endpoints.TokenURL = cfg.Upstream.TokenURL
	oauthClient := oauth.NewClient(cfg.OAuth, endpoints, &http.Client{Timeout: cfg.Upstream.RefreshTimeout})

	credentialPool := pool.New(credentials, ledger, codec, oauthClient, pool.Config{
		Reward:         cfg.Quota.Reward(),
		Floor:          cfg.Quota.DefaultDaily,
		RefreshMargin:  cfg.Upstream.RefreshMargin,
		RefreshTimeout: cfg.Upstream.RefreshTimeout,
	})

	upstream := providers.NewHTTPClient()
	claude := providers.NewClaudeProxyProvider(cfg.Upstream.ClaudeProxyURL, upstream)
	gemini := providers.NewGeminiProvider(cfg.Upstream.GeminiBaseURL, upstream)

	keys, err := auth.NewKeyIssuer(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key issuer: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewRateLimiter(redisClient.Client())
	if cfg.RateLimit.BaseRPM <= 0 && cfg.RateLimit.ContributorRPM <= 0 {
		limiter = ratelimit.NewNoopLimiter()
	}

	usageWorker, err := newUsageWorker(ctx, cfg, db, redisClient)
	if err != nil {
		return nil, err
	}
	usageWorker.Start(context.Background())

	return &Dependencies{
		Config:      cfg,
		Pool:        credentialPool,
		Quota:       ledger,
		RateLimit:   limiter,
		Usage:       NewQueueUsageSink(usageWorker),
		Gemini:      gemini,
		Claude:      claude,
		Verifier:    providers.NewVerifier(claude, cfg.Upstream.VerifyTimeout),
		OAuth:       oauthClient,
		States:      oauth.NewRedisStateStore(redisClient.Client(), oauthStateTTL),
		Keys:        keys,
		Owners:      owners,
		UsageRepo:   storage.NewUsageRepository(db),
		DB:          db,
		Redis:       redisClient,
		UsageWorker: usageWorker,
		logger:      utils.NewLogger("httpapi"),
	}, nil
}

// newCodec prefers an explicit base64 key and otherwise derives one from
// the signing secret
func newCodec(cfg *config.Config) (*storage.Encryption, error) {
	if cfg.EncryptionKey != "" {
		return storage.NewEncryptionFromBase64(cfg.EncryptionKey)
	}
	return storage.NewEncryptionFromSecret(cfg.SecretKey)
}

// newUsageWorker picks the queue backend and attaches the S3 archive when
// it is enabled
func newUsageWorker(ctx context.Context, cfg *config.Config, db *storage.DB, redisClient *storage.RedisClient) (*storage.UsageQueueWorker, error) {
	queueCfg := queue.DefaultConfig("usage")
	queueCfg.BatchSize = cfg.UsageQueue.BatchSize
	queueCfg.BatchTimeout = cfg.UsageQueue.BatchTimeout
	queueCfg.MaxRetries = cfg.UsageQueue.MaxRetries
	queueCfg.RetryBackoff = cfg.UsageQueue.RetryBackoff

	var usageQueue queue.Queue
	var usageDLQ queue.DeadLetterQueue
	if cfg.UsageQueue.UseRedis {
		var err error
		usageQueue, err = queue.NewRedisQueue(redisClient.Client(), queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		usageDLQ, err = queue.NewRedisDeadLetterQueue(redisClient.Client(), queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		usageQueue = queue.NewMemoryQueue(queueCfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}

	worker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, db, queueCfg)

	if cfg.UsageArchive.Enabled {
		archive, err := logging.NewS3Writer(ctx, cfg.UsageArchive)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize usage archive: %w", err)
		}
		worker.SetArchiver(archive)
	}

	return worker, nil
}

// Close stops the usage worker, flushing queued records, and closes the
// backing connections
func (d *Dependencies) Close() error {
	if d.UsageWorker != nil {
		if err := d.UsageWorker.Stop(); err != nil {
			d.logger.Error("Failed to stop usage worker", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.logger.Error("Failed to close Redis", "error", err)
		}
	}
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Caller endpoints - protected with API key middleware
	authn := middleware.APIKeyMiddleware(deps.Keys, deps.Owners)
	protected := func(h http.HandlerFunc) http.Handler {
		return authn(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authn(middleware.RequireRole(auth.RoleAdmin)(h))
	}

	// OpenAI-compatible surface
	mux.Handle("POST /v1/chat/completions", protected(deps.handleChat))
	mux.Handle("GET /v1/models", protected(deps.handleModels))

	// Account and donation management
	mux.Handle("GET /api/me", protected(deps.handleMe))
	mux.Handle("GET /api/credentials", protected(deps.handleListCredentials))
	mux.Handle("POST /api/credentials", protected(deps.handleCreateCredential))
	mux.Handle("PATCH /api/credentials/{id}", protected(deps.handleUpdateCredential))
	mux.Handle("DELETE /api/credentials/{id}", protected(deps.handleDeleteCredential))
	mux.Handle("GET /api/oauth/auth-url", protected(deps.handleOAuthURL))
	mux.Handle("POST /api/oauth/callback", protected(deps.handleOAuthCallback))

	// Public
	mux.HandleFunc("GET /api/stats", deps.handleStats)
	mux.HandleFunc("GET /health", deps.handleHealth)

	// Runtime settings - admin owners only
	mux.Handle("GET /admin/oauth/config", admin(deps.handleGetOAuthConfig))
	mux.Handle("POST /admin/oauth/config", admin(deps.handleUpdateOAuthConfig))
}
