package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pool_gateway/internal/config"
	"pool_gateway/internal/models"
	"pool_gateway/internal/pool"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/storage/storagetest"
)

// fakeUpstream is an httptest server whose handler can be swapped per test
type fakeUpstream struct {
	*httptest.Server
	mu      sync.Mutex
	handler http.HandlerFunc
	calls   int
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		h := f.handler
		f.calls++
		f.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) handle(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	deps    *Dependencies
	handler http.Handler
	gemini  *fakeUpstream
	proxy   *fakeUpstream
	tokens  *fakeUpstream
	redis   *miniredis.Miniredis
}

func testConfig(gemini, proxy, tokens string) *config.Config {
	return &config.Config{
		SecretKey: "httpapi-test-secret",
		LogLevel:  "error",
		Upstream: config.UpstreamConfig{
			GeminiBaseURL:  gemini + "/v1internal",
			ClaudeProxyURL: proxy + "/v1",
			TokenURL:       tokens + "/token",
			ChatTimeout:    5 * time.Second,
			RefreshTimeout: 5 * time.Second,
			VerifyTimeout:  5 * time.Second,
			RefreshMargin:  5 * time.Minute,
			GeminiModels:   []string{"gemini-2.5-pro", "gemini-2.5-flash"},
			ClaudeModels:   []string{"claude-sonnet-4-5"},
		},
		Quota: config.QuotaConfig{
			DefaultDaily: 100,
			RewardClaude: 500,
			RewardGemini: 300,
		},
		RateLimit: config.RateLimitConfig{
			BaseRPM:        50,
			ContributorRPM: 100,
		},
		UsageQueue: config.UsageQueueConfig{
			BatchSize:    10,
			BatchTimeout: 20 * time.Millisecond,
			MaxRetries:   1,
			RetryBackoff: 10 * time.Millisecond,
		},
		OAuth: config.NewOAuthSettings(config.OAuthClient{
			ClientID:     "client-id",
			ClientSecret: "client-secret-value",
			RedirectURI:  "http://localhost:8080/callback",
		}),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		gemini: newFakeUpstream(t),
		proxy:  newFakeUpstream(t),
		tokens: newFakeUpstream(t),
		redis:  miniredis.RunT(t),
	}

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Address = env.redis.Addr()
	redisClient, err := storage.NewRedisClient(redisCfg)
	require.NoError(t, err)

	db := storagetest.NewTestDB(t)
	cfg := testConfig(env.gemini.URL, env.proxy.URL, env.tokens.URL)

	deps, err := NewDependencies(context.Background(), cfg, db, redisClient)
	require.NoError(t, err)
	t.Cleanup(func() { deps.Close() })

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	env.deps = deps
	env.handler = mux
	return env
}

// owner creates an active owner and returns it with its API key
func (e *testEnv) owner(t *testing.T, name string, ceiling int, admin bool) (*models.Owner, string) {
	t.Helper()
	o := &models.Owner{Name: name, DailyQuota: ceiling, IsAdmin: admin, IsActive: true}
	require.NoError(t, e.deps.Owners.Create(context.Background(), o))
	key, err := e.deps.Keys.Issue(o.ID)
	require.NoError(t, err)
	return o, key
}

func (e *testEnv) donate(t *testing.T, ownerID uuid.UUID, bundle storage.SecretBundle, in pool.RegisterInput) *models.Credential {
	t.Helper()
	cred, err := e.deps.Pool.Register(context.Background(), ownerID, bundle, in)
	require.NoError(t, err)
	return cred
}

func (e *testEnv) credential(t *testing.T, ownerID, id uuid.UUID) *models.Credential {
	t.Helper()
	creds, err := e.deps.Pool.Credentials(context.Background(), ownerID)
	require.NoError(t, err)
	for _, c := range creds {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("credential %s not found", id)
	return nil
}

func (e *testEnv) ceiling(t *testing.T, ownerID uuid.UUID) int {
	t.Helper()
	e.deps.Owners.Invalidate(ownerID)
	o, err := e.deps.Owners.GetByID(context.Background(), ownerID)
	require.NoError(t, err)
	return o.DailyQuota
}

func (e *testEnv) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func oauthBundle(access string, expiresIn time.Duration) storage.SecretBundle {
	return storage.SecretBundle{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(expiresIn).UTC().Truncate(time.Second),
	}
}
