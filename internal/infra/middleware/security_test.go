package middleware

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/mcp", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "HSTS must not be set without TLS")
}

func TestSecurityHeadersHSTSWithTLS(t *testing.T) {
	req := httptest.NewRequest("GET", "/mcp", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, req)

	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler(), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRateLimitBlocksExcessiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{RequestsPerMin: 60, BurstSize: 2}, discardLogger())(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest("POST", "/mcp", nil)
		req.RemoteAddr = "192.168.1.10:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Contains(t, w.Body.String(), `"error":"RATE_LIMIT"`)
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimitSeparatesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{RequestsPerMin: 60, BurstSize: 1}, discardLogger())(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "[::1]:1"} {
		req := httptest.NewRequest("POST", "/mcp", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}
}

func TestRateLimitCleanupGoroutineStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	_ = RateLimit(ctx, RateLimitConfig{RequestsPerMin: 60, BurstSize: 1}, discardLogger())
	cancel()
}

func TestClientIP(t *testing.T) {
	trusted := parseCIDRs([]string{"10.0.0.0/8", "not-a-cidr"})
	require.Len(t, trusted, 1)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted bool
		want    string
	}{
		{"direct", "192.168.1.5:4000", nil, false, "192.168.1.5"},
		{"ipv6 direct", "[2001:db8::1]:4000", nil, false, "2001:db8::1"},
		{"spoofed xff ignored without proxies", "192.168.1.5:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, false, "192.168.1.5"},
		{"spoofed xff from untrusted peer", "192.168.1.5:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, true, "192.168.1.5"},
		{"xff from trusted proxy", "10.1.2.3:4000", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.1.2.3"}, true, "1.2.3.4"},
		{"x-real-ip from trusted proxy", "10.1.2.3:4000", map[string]string{"X-Real-IP": " 5.6.7.8 "}, true, "5.6.7.8"},
		{"trusted proxy without headers", "10.1.2.3:4000", nil, true, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			var proxies = trusted
			if !tt.trusted {
				proxies = nil
			}
			assert.Equal(t, tt.want, clientIP(req, proxies))
		})
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "path=/health")
}
