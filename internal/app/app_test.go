package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finora/internal/auth"
	"finora/internal/config"
	"finora/internal/observability"
)

const testPassword = "Secret123!"

func testConfig() config.Config {
	return config.Config{
		AppEnv:      "test",
		StoreDriver: config.DriverMemory,
		Tokens: auth.TokenConfig{
			Access:            auth.TokenSettings{Secret: "access-secret-0123456789"},
			Refresh:           auth.TokenSettings{Secret: "refresh-secret-0123456789"},
			EmailVerification: auth.TokenSettings{Secret: "verify-secret-0123456789"},
			PasswordReset:     auth.TokenSettings{Secret: "reset-secret-0123456789"},
		},
		BcryptCost:      4,
		ServerURL:       "http://localhost:8080",
		ClientURL:       "http://localhost:5173",
		Mail:            config.MailConfig{Workers: 1, QueueSize: 10},
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
		CronSecret:      "s3cret",
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Tokens  auth.Tokens     `json:"tokens"`
}

func newTestRuntime(t *testing.T, cfg config.Config) (*Runtime, *Stores) {
	t.Helper()
	ctx := context.Background()

	stores, err := OpenStores(ctx, cfg)
	require.NoError(t, err)

	rt, err := assemble(ctx, cfg, stores, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })
	return rt, stores
}

func do(t *testing.T, h http.Handler, method, target, accessToken string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func registerVerifiedUser(t *testing.T, h http.Handler, stores *Stores, email string) string {
	t.Helper()

	rec, body := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":            "Ana Lee",
		"username":        "analee",
		"email":           email,
		"password":        testPassword,
		"confirmPassword": testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, body.Message)

	var data struct {
		User auth.Profile `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, stores.Auth.SetVerificationToken(ctx, data.User.ID, auth.Digest("link"), now.Add(time.Hour)))
	require.NoError(t, stores.Auth.ConsumeVerificationToken(ctx, data.User.ID, auth.Digest("link"), now))

	rec, body = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, body.Message)
	require.NotEmpty(t, body.Tokens.AccessToken)
	return body.Tokens.AccessToken
}

func TestRoutesEndToEnd(t *testing.T) {
	rt, stores := newTestRuntime(t, testConfig())
	h := rt.Handler
	token := registerVerifiedUser(t, h, stores, "ana@example.com")

	rec, body := do(t, h, http.MethodGet, "/api/users/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, body.Message)
	assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))

	rec, body = do(t, h, http.MethodPost, "/api/transactions", token, map[string]any{
		"description": "Groceries",
		"amount":      25,
		"type":        "expense",
		"category":    "Food & Dining",
	})
	require.Equal(t, http.StatusCreated, rec.Code, body.Message)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))

	rec, body = do(t, h, http.MethodPost, "/api/transactions/update/"+created.ID, token, map[string]any{"notes": "weekly"})
	require.Equal(t, http.StatusOK, rec.Code, body.Message)

	rec, _ = do(t, h, http.MethodPost, "/api/transactions/delete/"+created.ID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/budgets", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/api/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", body.Code)

	rec, body = do(t, h, http.MethodPost, "/api/users/avatar", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UPLOADS_DISABLED", body.Code)
}

func TestUnverifiedUsersAreGated(t *testing.T) {
	rt, _ := newTestRuntime(t, testConfig())

	rec, _ := do(t, rt.Handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ben Ray", "username": "benray", "email": "ben@example.com",
		"password": testPassword, "confirmPassword": testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := do(t, rt.Handler, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ben@example.com", "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, "login does not require verification by default")

	rec, body = do(t, rt.Handler, http.MethodGet, "/api/users/profile", body.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", body.Code)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	rt, _ := newTestRuntime(t, cfg)

	credentials := map[string]string{"email": "nobody@example.com", "password": testPassword}
	for range 2 {
		rec, _ := do(t, rt.Handler, http.MethodPost, "/api/auth/login", "", credentials)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, body := do(t, rt.Handler, http.MethodPost, "/api/auth/login", "", credentials)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", body.Code)

	rec, _ = do(t, rt.Handler, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is never limited")
}

func TestRateLimitKeysOnPeerUnlessProxyIsTrusted(t *testing.T) {
	login := func(h http.Handler, remoteAddr, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			bytes.NewBufferString(`{"email":"nobody@example.com","password":"Secret123!"}`))
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("direct clients", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimitMax = 1
		rt, _ := newTestRuntime(t, cfg)

		assert.Equal(t, http.StatusUnauthorized, login(rt.Handler, "203.0.113.7:5555", "10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, login(rt.Handler, "203.0.113.7:5556", "10.0.0.2"))
	})

	t.Run("behind a trusted proxy", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimitMax = 1
		cfg.TrustedProxies = []string{"10.0.0.0/8"}
		rt, _ := newTestRuntime(t, cfg)

		assert.Equal(t, http.StatusUnauthorized, login(rt.Handler, "10.0.0.1:443", "203.0.113.7"))
		assert.Equal(t, http.StatusUnauthorized, login(rt.Handler, "10.0.0.1:443", "198.51.100.2"))
		assert.Equal(t, http.StatusTooManyRequests, login(rt.Handler, "10.0.0.1:443", "203.0.113.7"))
	})
}

func TestAssembleRejectsBadTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"edge-proxy"}

	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)

	_, err = assemble(context.Background(), cfg, stores, observability.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted proxies")
}

func TestOperationalRoutes(t *testing.T) {
	rt, stores := newTestRuntime(t, testConfig())
	registerVerifiedUser(t, rt.Handler, stores, "ana@example.com")

	rec, _ := do(t, rt.Handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec, _ = do(t, rt.Handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `finora_auth_events_total{event="login",outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `finora_auth_events_total{event="signup",outcome="success"} 1`)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	rt.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted_refresh_tokens":0`)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandlerReportsDegradedStore(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(pingFunc(func(context.Context) error { return errors.New("down") }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestBuildFromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("EMAIL_HOST", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CLOUDINARY_URL", "")
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("JWT_SECRET", "access-secret-0123456789")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret-0123456789")
	t.Setenv("EMAIL_VERIFICATION_SECRET", "verify-secret-0123456789")
	t.Setenv("PASSWORD_RESET_SECRET", "reset-secret-0123456789")

	rt, err := Build(Options{RunMigrations: true})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, config.DriverMemory, rt.Config.StoreDriver)
	rec := httptest.NewRecorder()
	rt.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRejectsBadCloudinaryURL(t *testing.T) {
	cfg := testConfig()
	cfg.CloudinaryURL = "https://not-cloudinary"
	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)

	_, err = assemble(context.Background(), cfg, stores, observability.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init cloudinary")
}
