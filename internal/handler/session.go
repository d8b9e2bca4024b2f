// Package handler exposes the checkout session protocol over HTTP and
// guards it with the access gate and the idempotency ledger.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carticy-dev/agentic-checkout/internal/service"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/httputil"
)

// SessionHandler serves the checkout session protocol surface. Responses are
// bare session JSON, shaped exactly as the protocol specifies.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates the session protocol handler.
func NewSessionHandler(sessions *service.SessionService, log *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: log}
}

// Create handles POST /checkout_sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateSessionInput
	if !h.decode(w, r, &input) {
		return
	}

	sess, err := h.sessions.Create(r.Context(), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

// Get handles GET /checkout_sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

// Update handles POST /checkout_sessions/{id}.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input service.UpdateSessionInput
	if !h.decode(w, r, &input) {
		return
	}

	sess, err := h.sessions.Update(r.Context(), chi.URLParam(r, "id"), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

// Complete handles POST /checkout_sessions/{id}/complete.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var input service.CompleteSessionInput
	if !h.decode(w, r, &input) {
		return
	}

	sess, err := h.sessions.Complete(r.Context(), chi.URLParam(r, "id"), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

// Cancel handles POST /checkout_sessions/{id}/cancel.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

// decode reads a bounded JSON body. Validation happens in the service.
func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("request body is not valid JSON"), h.logger)
		return false
	}
	return true
}
