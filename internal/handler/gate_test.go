package handler

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func newTestGate(t *testing.T, testMode bool, allowlist *Allowlist) *Gate {
	return newTestGateWithProxies(t, testMode, allowlist, nil)
}

func newTestGateWithProxies(t *testing.T, testMode bool, allowlist *Allowlist, proxies []string) *Gate {
	t.Helper()
	if allowlist == nil {
		allowlist = NewAllowlist("", testMode, newTestLogger())
	}
	gate, err := NewGate(GateConfig{
		Credentials:    []string{"sk_test_primary", "sk_test_secondary"},
		TestMode:       testMode,
		APIVersion:     "2026-02-20",
		TrustedProxies: proxies,
	}, allowlist, NewRateLimiter(RateLimiterConfig{PerSecond: 1000, Burst: 1000}), newTestLogger())
	require.NoError(t, err)
	return gate
}

func gateRequest(credential string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/checkout_sessions/cs_abc", nil)
	r.RemoteAddr = "10.1.2.3:54321"
	if credential != "" {
		r.Header.Set("Authorization", "Bearer "+credential)
	}
	return r
}

func TestGate_MissingCredential(t *testing.T) {
	gate := newTestGate(t, true, nil)
	rec := httptest.NewRecorder()

	gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTHENTICATION_FAILED")
}

func TestGate_WrongCredential(t *testing.T) {
	gate := newTestGate(t, true, nil)
	rec := httptest.NewRecorder()

	gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest("sk_test_forged"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_AnyIssuedCredentialAccepted(t *testing.T) {
	gate := newTestGate(t, true, nil)

	for _, cred := range []string{"sk_test_primary", "sk_test_secondary"} {
		rec := httptest.NewRecorder()
		gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest(cred))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGate_DefaultsAPIVersion(t *testing.T) {
	gate := newTestGate(t, true, nil)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderAPIVersion)
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(rec, gateRequest("sk_test_primary"))
	assert.Equal(t, "2026-02-20", seen)

	r := gateRequest("sk_test_primary")
	r.Header.Set(HeaderAPIVersion, "2025-11-01")
	rec = httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(rec, r)
	assert.Equal(t, "2025-11-01", seen)
}

func TestGate_TransportRequiredInProduction(t *testing.T) {
	gate := newTestGateWithProxies(t, false, nil, []string{"10.1.2.0/24"})

	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest("sk_test_primary"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A terminated-TLS hop announced by a trusted proxy is accepted.
	r := gateRequest("sk_test_primary")
	r.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_ForwardedProtoIgnoredFromUntrustedPeer(t *testing.T) {
	gate := newTestGateWithProxies(t, false, nil, []string{"172.16.0.0/12"})

	// The peer sits outside the trusted proxy ranges, so its transport
	// announcement carries no weight.
	r := gateRequest("sk_test_primary")
	r.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "transport security is required")
}

func TestGate_ForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	allowlist := NewAllowlist("https://platform.example/cidrs", false, newTestLogger())
	_, ipnet, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	allowlist.setRanges([]*net.IPNet{ipnet})

	gate := newTestGate(t, true, allowlist)

	// A blocked peer claiming an allowlisted forwarded address stays blocked.
	r := gateRequest("sk_test_primary")
	r.RemoteAddr = "192.168.1.50:1234"
	r.Header.Set("X-Forwarded-For", "10.0.0.9")
	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGate_ForwardedForHonoredFromTrustedProxy(t *testing.T) {
	allowlist := NewAllowlist("https://platform.example/cidrs", false, newTestLogger())
	_, ipnet, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	allowlist.setRanges([]*net.IPNet{ipnet})

	gate := newTestGateWithProxies(t, true, allowlist, []string{"192.168.1.0/24"})

	r := gateRequest("sk_test_primary")
	r.RemoteAddr = "192.168.1.50:1234"
	r.Header.Set("X-Forwarded-For", "10.0.0.9")
	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewGate_RejectsMalformedProxyCIDR(t *testing.T) {
	_, err := NewGate(GateConfig{
		Credentials:    []string{"sk_test_primary"},
		TestMode:       true,
		TrustedProxies: []string{"not-a-cidr"},
	}, NewAllowlist("", true, newTestLogger()), NewRateLimiter(DefaultRateLimiterConfig()), newTestLogger())
	require.Error(t, err)
}

func TestGate_AllowlistBlocksForeignOrigin(t *testing.T) {
	allowlist := NewAllowlist("https://platform.example/cidrs", false, newTestLogger())
	_, ipnet, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	allowlist.setRanges([]*net.IPNet{ipnet})

	gate := newTestGate(t, true, allowlist)

	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest("sk_test_primary"))
	assert.Equal(t, http.StatusOK, rec.Code)

	r := gateRequest("sk_test_primary")
	r.RemoteAddr = "192.168.1.50:1234"
	rec = httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ORIGIN_NOT_ALLOWED")
}

func TestGate_EmptyAllowlistFailsClosedInProduction(t *testing.T) {
	allowlist := NewAllowlist("https://platform.example/cidrs", false, newTestLogger())
	gate := newTestGate(t, true, allowlist)

	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest("sk_test_primary"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGate_EmptyAllowlistFailsOpenInTestMode(t *testing.T) {
	allowlist := NewAllowlist("https://platform.example/cidrs", true, newTestLogger())
	gate := newTestGate(t, true, allowlist)

	rec := httptest.NewRecorder()
	gate.Middleware(okHandler()).ServeHTTP(rec, gateRequest("sk_test_primary"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_RateLimitWithRetryAfter(t *testing.T) {
	allowlist := NewAllowlist("", true, newTestLogger())
	gate, err := NewGate(GateConfig{
		Credentials: []string{"sk_test_primary"},
		TestMode:    true,
		APIVersion:  "2026-02-20",
	}, allowlist, NewRateLimiter(RateLimiterConfig{PerSecond: 1, Burst: 2, IdleTTL: time.Minute}), newTestLogger())
	require.NoError(t, err)

	h := gate.Middleware(okHandler())
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, gateRequest("sk_test_primary"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, gateRequest("sk_test_primary"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestGate_RateLimitIsPerEndpoint(t *testing.T) {
	allowlist := NewAllowlist("", true, newTestLogger())
	gate, err := NewGate(GateConfig{
		Credentials: []string{"sk_test_primary"},
		TestMode:    true,
		APIVersion:  "2026-02-20",
	}, allowlist, NewRateLimiter(RateLimiterConfig{PerSecond: 1, Burst: 1, IdleTTL: time.Minute}), newTestLogger())
	require.NoError(t, err)

	h := gate.Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, gateRequest("sk_test_primary"))
	require.Equal(t, http.StatusOK, rec.Code)

	// A different logical endpoint has its own bucket.
	r := httptest.NewRequest(http.MethodPost, "/checkout_sessions/cs_abc/cancel", nil)
	r.RemoteAddr = "10.1.2.3:54321"
	r.Header.Set("Authorization", "Bearer sk_test_primary")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouteShape(t *testing.T) {
	assert.Equal(t, "/checkout_sessions", routeShape("/checkout_sessions"))
	assert.Equal(t, "/checkout_sessions/{id}", routeShape("/checkout_sessions/cs_123"))
	assert.Equal(t, "/checkout_sessions/{id}/complete", routeShape("/checkout_sessions/cs_123/complete"))
	assert.Equal(t, "/payment_events", routeShape("/payment_events"))
}
