package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/carticy-dev/agentic-checkout/internal/idempotency"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/httputil"
)

// HeaderIdempotencyKey scopes a mutating call so repeated delivery produces
// one logical effect.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// responseRecorder buffers the response so a successful outcome can be
// stored for verbatim replay.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency deduplicates mutating calls by the client-supplied key. The
// first request claims the key and executes; a replay with the same body
// returns the stored response verbatim; a replay with a different body is a
// conflict; a racing duplicate is rejected while the first is in flight.
// A mutating request without a key is rejected; reads pass through untouched.
func Idempotency(store idempotency.Store, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				httputil.WriteError(w, r, apperrors.Validation(
					"the Idempotency-Key header is required on mutating requests",
					map[string]string{HeaderIdempotencyKey: "is required"},
				), log)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				httputil.WriteError(w, r, apperrors.InvalidInput("request body could not be read"), log)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scope := r.Method + " " + routeShape(r.URL.Path)
			fingerprint := idempotency.Fingerprint(body)

			begin, err := store.Begin(r.Context(), scope, key, fingerprint)
			if err != nil {
				httputil.WriteError(w, r, apperrors.Internal(err), log)
				return
			}

			switch begin.State {
			case idempotency.StateReplay:
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(begin.StoredStatus)
				_, _ = w.Write(begin.StoredBody)
				return
			case idempotency.StateConflict:
				httputil.WriteError(w, r, apperrors.IdempotencyConflict(), log)
				return
			case idempotency.StateInProgress:
				httputil.WriteError(w, r, apperrors.IdempotencyInProgress(), log)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Server-side failures release the claim so a retry with the
			// same key can execute; everything else is stored for replay.
			if rec.status >= http.StatusInternalServerError {
				if err := store.Abandon(r.Context(), scope, key); err != nil {
					log.ErrorContext(r.Context(), "idempotency abandon failed",
						slog.String("key", key), slog.String("error", err.Error()))
				}
				return
			}
			if err := store.Complete(r.Context(), scope, key, rec.status, rec.body.Bytes()); err != nil {
				log.ErrorContext(r.Context(), "idempotency complete failed",
					slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
}
