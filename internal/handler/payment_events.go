package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carticy-dev/agentic-checkout/internal/service"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/httputil"
)

// PaymentEventHandler receives gateway-initiated notifications such as
// refunds and disputes, correlated by gateway reference.
type PaymentEventHandler struct {
	events *service.PaymentEventService
	logger *slog.Logger
}

// NewPaymentEventHandler creates the gateway event intake handler.
func NewPaymentEventHandler(events *service.PaymentEventService, log *slog.Logger) *PaymentEventHandler {
	return &PaymentEventHandler{events: events, logger: log}
}

// Apply handles POST /payment_events.
func (h *PaymentEventHandler) Apply(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var input service.PaymentEventInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("request body is not valid JSON"), h.logger)
		return
	}

	order, err := h.events.Apply(r.Context(), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}
