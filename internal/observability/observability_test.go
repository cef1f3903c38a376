package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLoggerFromZap(zap.New(core)), logs
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	t.Run("reuses inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("mints ulid for missing or oversized id", func(t *testing.T) {
		for _, inbound := range []string{"", strings.Repeat("x", 65)} {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(RequestIDHeader, inbound)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			_, err := ulid.Parse(seen)
			require.NoError(t, err)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		}
	})

	assert.Empty(t, RequestIDFrom(context.Background()))
}

func TestRequestLoggingMiddleware(t *testing.T) {
	logger, logs := observedLogger()
	metrics := NewHTTPMetrics(prometheus.NewRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/transactions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})
	trust, err := NewProxyTrust([]string{"192.0.2.1", "10.0.0.0/8"})
	require.NoError(t, err)
	handler := RequestIDMiddleware(ClientIPMiddleware(trust, RequestLoggingMiddleware(logger, metrics, mux)))

	req := httptest.NewRequest(http.MethodPut, "/api/transactions/tx-42", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "PUT", fields["method"])
	assert.Equal(t, "/api/transactions/tx-42", fields["path"])
	assert.Equal(t, "PUT /api/transactions/{id}", fields["route"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, 5, fields["bytes"])
	assert.Equal(t, "203.0.113.7", fields["ip"])

	assert.Equal(t, "unmatched", entries[1].ContextMap()["route"])
	assert.EqualValues(t, http.StatusNotFound, entries[1].ContextMap()["status"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("PUT", "PUT /api/transactions/{id}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.duration))
}

func TestRequestLoggingWithoutMetrics(t *testing.T) {
	logger, logs := observedLogger()
	handler := RequestLoggingMiddleware(logger, nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	require.NotPanics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	})
	require.Len(t, logs.FilterMessage("http_request").All(), 1)
	assert.EqualValues(t, http.StatusOK, logs.All()[0].ContextMap()["status"])
}

func TestRecoverMiddleware(t *testing.T) {
	logger, logs := observedLogger()
	handler := RecoverMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/profile", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INTERNAL_FAILURE", body["code"])
	assert.Equal(t, 1, logs.FilterMessage("panic_recovered").Len())
}

func TestClientIPWithoutTrustedProxies(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "port is dropped", remoteAddr: "198.51.100.2:5123", want: "198.51.100.2"},
		{name: "other port same host", remoteAddr: "198.51.100.2:61000", want: "198.51.100.2"},
		{name: "forwarded header is ignored", remoteAddr: "198.51.100.2:5123", forwarded: "203.0.113.7", want: "198.51.100.2"},
		{name: "ipv6 peer", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "ipv4 mapped peer", remoteAddr: "[::ffff:198.51.100.2]:80", want: "198.51.100.2"},
		{name: "no port", remoteAddr: "198.51.100.2", want: "198.51.100.2"},
		{name: "no peer", remoteAddr: "", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))

			var resolved string
			ClientIPMiddleware(nil, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				resolved = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, resolved)
		})
	}
}

func TestProxyTrustResolve(t *testing.T) {
	trust, err := NewProxyTrust([]string{"10.0.0.0/8", " 192.0.2.10 ", ""})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  []string
		want       string
	}{
		{name: "untrusted peer keeps its own address", remoteAddr: "198.51.100.2:5123", forwarded: []string{"203.0.113.7"}, want: "198.51.100.2"},
		{name: "trusted peer names the client", remoteAddr: "10.1.2.3:5123", forwarded: []string{"203.0.113.7"}, want: "203.0.113.7"},
		{name: "spoofed left hops are skipped", remoteAddr: "10.1.2.3:5123", forwarded: []string{"1.1.1.1, 2.2.2.2, 203.0.113.7"}, want: "203.0.113.7"},
		{name: "chain of trusted proxies", remoteAddr: "192.0.2.10:80", forwarded: []string{"203.0.113.7, 10.9.9.9"}, want: "203.0.113.7"},
		{name: "repeated headers are one list", remoteAddr: "10.1.2.3:5123", forwarded: []string{"1.1.1.1", "203.0.113.7, 10.0.0.5"}, want: "203.0.113.7"},
		{name: "hop with port", remoteAddr: "10.1.2.3:5123", forwarded: []string{"203.0.113.7:4711"}, want: "203.0.113.7"},
		{name: "garbage stops the walk", remoteAddr: "10.1.2.3:5123", forwarded: []string{"203.0.113.7, not-an-ip, 10.0.0.5"}, want: "10.0.0.5"},
		{name: "no header", remoteAddr: "10.1.2.3:5123", want: "10.1.2.3"},
		{name: "every hop trusted", remoteAddr: "10.1.2.3:5123", forwarded: []string{"10.0.0.7, 10.0.0.5"}, want: "10.0.0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, value := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", value)
			}
			assert.Equal(t, tt.want, trust.Resolve(req))
		})
	}
}

func TestNewProxyTrustRejectsMalformedEntries(t *testing.T) {
	for _, entry := range []string{"10.0.0.0/33", "proxy.internal", "10.0.0"} {
		_, err := NewProxyTrust([]string{entry})
		assert.Error(t, err, entry)
	}
}

func TestLoggerWithAddsFields(t *testing.T) {
	logger, logs := observedLogger()
	logger.With(map[string]any{"component": "auth"}).Warn("rate_limit_unavailable", map[string]any{"error": "down"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "auth", entries[0].ContextMap()["component"])
	assert.Equal(t, "down", entries[0].ContextMap()["error"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("chatty")
	require.NoError(t, err)
	assert.True(t, logger.base.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.base.Core().Enabled(zapcore.DebugLevel))
}

func TestScrubCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		URL:         "https://api.finora.test/api/auth/verify-email",
		QueryString: "token=secret",
		Cookies:     "accessToken=secret",
		Headers: map[string]string{
			"Authorization": "Bearer secret",
			"Cookie":        "accessToken=secret",
			"User-Agent":    "curl/8",
		},
	}}

	scrubbed := scrubCredentials(event)
	assert.Equal(t, map[string]string{"User-Agent": "curl/8"}, scrubbed.Request.Headers)
	assert.Empty(t, scrubbed.Request.Cookies)
	assert.Empty(t, scrubbed.Request.QueryString)
	assert.Nil(t, scrubCredentials(nil))
}

func TestInitSentryWithoutDSN(t *testing.T) {
	assert.NoError(t, InitSentry("", "test"))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "finora_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "finora_test_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
