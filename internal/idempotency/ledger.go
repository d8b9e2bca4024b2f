// Package idempotency implements the deduplication ledger for mutating
// protocol calls. A client-supplied key is claimed atomically on first
// sight; replays with the same fingerprint return the stored response
// verbatim, replays with a different fingerprint are rejected, and a racing
// duplicate is rejected while the first request is still in flight.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Begin states.
const (
	// StateNew means the key was claimed and the caller must execute the
	// operation, then call Complete.
	StateNew = "new"
	// StateReplay means the key was seen before with the same fingerprint
	// and a stored response is available.
	StateReplay = "replay"
	// StateConflict means the key was seen before with a different
	// fingerprint.
	StateConflict = "conflict"
	// StateInProgress means another request holding the same key has not
	// finished yet.
	StateInProgress = "in_progress"
)

// BeginResult is the outcome of claiming a key.
type BeginResult struct {
	State        string
	StoredStatus int
	StoredBody   []byte
}

// Store is the ledger persistence backend. Begin must claim atomically
// across concurrent callers racing on the same scope and key.
type Store interface {
	Begin(ctx context.Context, scope, key, fingerprint string) (BeginResult, error)

	// Complete records the response for a claimed key so later replays
	// return it verbatim.
	Complete(ctx context.Context, scope, key string, statusCode int, body []byte) error

	// Abandon releases a claim whose operation failed before producing a
	// storable response, so a retry with the same key can execute.
	Abandon(ctx context.Context, scope, key string) error
}

// Fingerprint hashes a normalized request body for payload comparison.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DefaultTTL is how long records are retained. Expiry does not invalidate
// an already-returned response.
const DefaultTTL = 24 * time.Hour
