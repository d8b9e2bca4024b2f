package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carticy-dev/agentic-checkout/internal/idempotency"
)

func countingHandler(counter *atomic.Int64, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := counter.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"execution":%d}`, n)
	})
}

func idempotentPost(key, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/checkout_sessions", strings.NewReader(body))
	if key != "" {
		r.Header.Set(HeaderIdempotencyKey, key)
	}
	return r
}

func TestIdempotency_ReplayReturnsStoredResponseVerbatim(t *testing.T) {
	var counter atomic.Int64
	mw := Idempotency(idempotency.NewMemoryStore(idempotency.DefaultTTL), newTestLogger())
	h := mw(countingHandler(&counter, http.StatusCreated))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentPost("key-1", `{"currency":"USD"}`))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentPost("key-1", `{"currency":"USD"}`))

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), counter.Load())
}

func TestIdempotency_DifferentBodyConflicts(t *testing.T) {
	var counter atomic.Int64
	mw := Idempotency(idempotency.NewMemoryStore(idempotency.DefaultTTL), newTestLogger())
	h := mw(countingHandler(&counter, http.StatusCreated))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentPost("key-1", `{"currency":"USD"}`))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentPost("key-1", `{"currency":"EUR"}`))

	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "IDEMPOTENCY_CONFLICT")
	assert.Equal(t, int64(1), counter.Load())
}

func TestIdempotency_ServerErrorReleasesClaim(t *testing.T) {
	var counter atomic.Int64
	store := idempotency.NewMemoryStore(idempotency.DefaultTTL)

	failing := Idempotency(store, newTestLogger())(countingHandler(&counter, http.StatusInternalServerError))
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, idempotentPost("key-1", `{}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// The retry with the same key executes again instead of replaying the 500.
	succeeding := Idempotency(store, newTestLogger())(countingHandler(&counter, http.StatusCreated))
	rec = httptest.NewRecorder()
	succeeding.ServeHTTP(rec, idempotentPost("key-1", `{}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(2), counter.Load())
}

func TestIdempotency_MissingKeyRejectsMutatingRequest(t *testing.T) {
	var counter atomic.Int64
	mw := Idempotency(idempotency.NewMemoryStore(idempotency.DefaultTTL), newTestLogger())
	h := mw(countingHandler(&counter, http.StatusCreated))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentPost("", `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	assert.Contains(t, rec.Body.String(), HeaderIdempotencyKey)
	assert.Equal(t, int64(0), counter.Load())
}

func TestIdempotency_ReadsPassWithoutKey(t *testing.T) {
	var counter atomic.Int64
	mw := Idempotency(idempotency.NewMemoryStore(idempotency.DefaultTTL), newTestLogger())
	h := mw(countingHandler(&counter, http.StatusOK))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout_sessions/cs_1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), counter.Load())
}

func TestIdempotency_KeysAreScopedPerEndpoint(t *testing.T) {
	var counter atomic.Int64
	mw := Idempotency(idempotency.NewMemoryStore(idempotency.DefaultTTL), newTestLogger())
	h := mw(countingHandler(&counter, http.StatusOK))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentPost("key-1", `{}`))
	require.Equal(t, http.StatusOK, rec.Code)

	other := httptest.NewRequest(http.MethodPost, "/checkout_sessions/cs_1/cancel", strings.NewReader(`{}`))
	other.Header.Set(HeaderIdempotencyKey, "key-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), counter.Load())
}
