// Package service holds the checkout protocol orchestration: session
// lifecycle, payment completion, order materialization, gateway event
// intake, and the expiry sweeper. Collaborators are injected as narrow
// interfaces and assembled once at process start.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carticy-dev/agentic-checkout/internal/catalog"
	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/event"
	"github.com/carticy-dev/agentic-checkout/internal/payment"
	"github.com/carticy-dev/agentic-checkout/internal/repository"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/logger"
)

// EventPublisher is the session service's view of the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, evt event.OrderEvent) error
}

// PaymentCompleter is the session service's view of the payment adapter.
type PaymentCompleter interface {
	CompletePayment(ctx context.Context, session *domain.CheckoutSession, token *payment.DelegatedToken) (*payment.Result, error)
}

// SessionDeps bundles the collaborators of the session service.
type SessionDeps struct {
	Sessions   repository.SessionRepository
	Orders     repository.OrderRepository
	Catalog    catalog.Resolver
	Reserver   catalog.Reserver // optional; nil when the catalog cannot hold stock
	Payments   PaymentCompleter
	Bus        EventPublisher
	Shipping   *ShippingTable
	Pricing    PricingRules
	SessionTTL time.Duration
	Logger     *slog.Logger
}

// SessionService owns all checkout session writes. It enforces the state
// machine, recomputes totals on every mutation, and coordinates payment
// capture with order materialization.
type SessionService struct {
	sessions   repository.SessionRepository
	orders     repository.OrderRepository
	catalog    catalog.Resolver
	reserver   catalog.Reserver
	payments   PaymentCompleter
	bus        EventPublisher
	shipping   *ShippingTable
	pricing    PricingRules
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewSessionService creates the session service.
func NewSessionService(deps SessionDeps) *SessionService {
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{
		sessions:   deps.Sessions,
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		reserver:   deps.Reserver,
		payments:   deps.Payments,
		bus:        deps.Bus,
		shipping:   deps.Shipping,
		pricing:    deps.Pricing,
		sessionTTL: ttl,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Create validates the cart, snapshots catalog prices, computes totals, and
// persists a new open session.
func (s *SessionService) Create(ctx context.Context, input *CreateSessionInput) (*domain.CheckoutSession, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	items, err := s.resolveLineItems(ctx, input.LineItems)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &domain.CheckoutSession{
		ID:            "cs_" + uuid.NewString(),
		Status:        domain.SessionStatusOpen,
		Currency:      strings.ToUpper(input.Currency),
		LineItems:     items,
		DiscountCodes: input.DiscountCodes,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.sessionTTL),
	}
	if input.Buyer != nil {
		sess.Buyer = input.Buyer.toDomain()
	}
	if input.BillingAddress != nil {
		sess.BillingAddress = input.BillingAddress.toDomain()
	}
	if input.ShippingAddress != nil {
		sess.ShippingAddress = input.ShippingAddress.toDomain()
		sess.ShippingOptions = s.shipping.OptionsFor(sess.ShippingAddress)
	}

	if err := s.recalculate(sess); err != nil {
		return nil, err
	}

	if s.reserver != nil {
		if err := s.reserver.Reserve(ctx, sess.ID, sess.LineItems); err != nil {
			return nil, apperrors.Validation("cart cannot be fulfilled", map[string]string{"line_items": err.Error()})
		}
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log(ctx).InfoContext(ctx, "checkout session created",
		slog.String("session_id", sess.ID),
		slog.Int("line_items", len(sess.LineItems)),
		slog.Int64("total", sess.Totals.Total),
	)
	return sess, nil
}

// Get retrieves the current session state.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	return s.sessions.GetByID(ctx, id)
}

// Update applies a partial mutation to an open session. Line items are
// re-resolved against the catalog, an address change recomputes the shipping
// option set and clears an invalidated selection, and totals are always
// recomputed. A concurrent write loses with a state-conflict error.
func (s *SessionService) Update(ctx context.Context, id string, input *UpdateSessionInput) (*domain.CheckoutSession, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsTerminal() {
		return nil, apperrors.StateConflict(fmt.Sprintf("session is %s and cannot be modified", sess.Status))
	}
	if sess.CompletionInProgress(s.now().UTC()) {
		return nil, apperrors.StateConflict("a payment completion is in progress for this session")
	}

	itemsChanged := false
	if input.LineItems != nil {
		items, err := s.resolveLineItems(ctx, *input.LineItems)
		if err != nil {
			return nil, err
		}
		sess.LineItems = items
		itemsChanged = true
	}
	if input.Buyer != nil {
		sess.Buyer = input.Buyer.toDomain()
	}
	if input.BillingAddress != nil {
		sess.BillingAddress = input.BillingAddress.toDomain()
	}
	if input.ShippingAddress != nil {
		sess.ShippingAddress = input.ShippingAddress.toDomain()
		sess.ShippingOptions = s.shipping.OptionsFor(sess.ShippingAddress)
		s.reconcileShippingSelection(sess)
	}
	if input.ShippingOptionID != nil {
		if err := s.selectShippingOption(sess, *input.ShippingOptionID); err != nil {
			return nil, err
		}
	}
	if input.DiscountCodes != nil {
		sess.DiscountCodes = *input.DiscountCodes
	}

	if err := s.recalculate(sess); err != nil {
		return nil, err
	}

	if itemsChanged && s.reserver != nil {
		if err := s.reserver.Reserve(ctx, sess.ID, sess.LineItems); err != nil {
			return nil, apperrors.Validation("cart cannot be fulfilled", map[string]string{"line_items": err.Error()})
		}
	}

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Complete captures payment with the delegated token and, on success,
// materializes an order and transitions the session to completed. A decline
// leaves the session open for a retry with a fresh token; a gateway
// infrastructure failure is surfaced as retryable.
//
// The capture is guarded by a persisted claim: the session is written with a
// claim timestamp before the gateway is called, so a concurrent Complete on
// the same session loses the version check (or sees the claim) before any
// money moves. Failure paths release the claim so the caller can retry.
func (s *SessionService) Complete(ctx context.Context, id string, input *CompleteSessionInput) (*domain.CheckoutSession, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsTerminal() {
		return nil, apperrors.StateConflict(fmt.Sprintf("session is %s and cannot be completed", sess.Status))
	}
	if sess.CompletionInProgress(s.now().UTC()) {
		return nil, apperrors.StateConflict("a payment completion is already in progress for this session")
	}
	if sess.ShippingAddress != nil && sess.ShippingSelection == nil {
		return nil, apperrors.Validation("a shipping option must be selected before completion",
			map[string]string{"shipping_option_id": "is required"})
	}

	sess.CompletionClaimedAt = s.now().UTC()
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}

	token := payment.NewDelegatedToken(input.DelegatedToken)
	result, err := s.payments.CompletePayment(ctx, sess, token)
	if err != nil {
		// Session stays open, no payment reference is persisted.
		s.releaseCompletionClaim(ctx, sess)
		return nil, apperrors.GatewayUnavailable(5)
	}
	if result.Outcome == payment.OutcomeDeclined {
		s.releaseCompletionClaim(ctx, sess)
		return nil, apperrors.PaymentDeclined(result.DeclineReason)
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:               "ord_" + uuid.NewString(),
		SessionID:        sess.ID,
		Status:           domain.OrderStatusPlaced,
		Currency:         sess.Currency,
		LineItems:        sess.LineItems,
		Totals:           sess.Totals,
		Buyer:            sess.Buyer,
		ShippingAddress:  sess.ShippingAddress,
		PaymentReference: result.GatewayReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// Money moved but no order exists. Surface the failure and leave the
		// gateway reference in the log for operator reconciliation.
		s.log(ctx).ErrorContext(ctx, "order materialization failed after capture",
			slog.String("session_id", sess.ID),
			slog.String("gateway_reference", result.GatewayReference),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("materialize order: %w", err)
	}

	sess.PaymentReference = result.GatewayReference
	sess.OrderID = order.ID
	sess.Status = domain.SessionStatusCompleted
	sess.CompletionClaimedAt = time.Time{}
	if err := s.persistCompletion(ctx, sess); err != nil {
		// Money moved; the completion must win over whatever raced us.
		s.log(ctx).ErrorContext(ctx, "completed session persist failed after capture",
			slog.String("session_id", sess.ID),
			slog.String("gateway_reference", result.GatewayReference),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("persist completed session: %w", err)
	}

	if s.reserver != nil {
		if err := s.reserver.Release(ctx, sess.ID); err != nil {
			s.log(ctx).WarnContext(ctx, "reservation release failed",
				slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		}
	}

	s.publish(ctx, event.OrderEvent{Type: event.TypeOrderCreated, Order: order, Session: sess})

	s.log(ctx).InfoContext(ctx, "checkout session completed",
		slog.String("session_id", sess.ID),
		slog.String("order_id", order.ID),
		slog.Int64("total", sess.Totals.Total),
	)
	return sess, nil
}

// Cancel transitions an open session to canceled and releases any
// reservation held by the catalog.
func (s *SessionService) Cancel(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionStatusOpen {
		return nil, apperrors.StateConflict(fmt.Sprintf("session is %s and cannot be canceled", sess.Status))
	}

	if sess.CompletionInProgress(s.now().UTC()) {
		return nil, apperrors.StateConflict("a payment completion is in progress for this session")
	}

	if s.reserver != nil {
		if err := s.reserver.Release(ctx, sess.ID); err != nil {
			s.log(ctx).WarnContext(ctx, "reservation release failed",
				slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		}
	}

	sess.Status = domain.SessionStatusCanceled
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}

	s.log(ctx).InfoContext(ctx, "checkout session canceled", slog.String("session_id", sess.ID))
	return sess, nil
}

// resolveLineItems snapshots price and availability for each requested line.
func (s *SessionService) resolveLineItems(ctx context.Context, inputs []LineItemInput) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(inputs))
	fields := make(map[string]string)
	for i, in := range inputs {
		res, err := s.catalog.Resolve(ctx, in.CatalogRef)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownItem) {
				fields[fmt.Sprintf("line_items[%d].catalog_ref", i)] = "unknown catalog item"
				continue
			}
			return nil, fmt.Errorf("resolve catalog item %s: %w", in.CatalogRef, err)
		}
		if !res.Available {
			fields[fmt.Sprintf("line_items[%d].catalog_ref", i)] = "item is not available"
			continue
		}
		items = append(items, domain.LineItem{
			CatalogRef: res.Ref,
			Quantity:   in.Quantity,
			UnitPrice:  res.UnitPrice,
		})
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation("one or more line items cannot be fulfilled", fields)
	}
	return items, nil
}

// reconcileShippingSelection keeps the selection only if it survives an
// option-set recompute, refreshing its label and amount from the new set.
func (s *SessionService) reconcileShippingSelection(sess *domain.CheckoutSession) {
	if sess.ShippingSelection == nil {
		return
	}
	for _, opt := range sess.ShippingOptions {
		if opt.ID == sess.ShippingSelection.OptionID {
			sess.ShippingSelection = &domain.ShippingSelection{
				OptionID: opt.ID, Label: opt.Label, Amount: opt.Amount,
			}
			return
		}
	}
	sess.ClearShippingSelection()
}

// selectShippingOption sets the selection from the computed option set. An
// empty id clears the selection.
func (s *SessionService) selectShippingOption(sess *domain.CheckoutSession, optionID string) error {
	if optionID == "" {
		sess.ClearShippingSelection()
		return nil
	}
	for _, opt := range sess.ShippingOptions {
		if opt.ID == optionID {
			sess.ShippingSelection = &domain.ShippingSelection{
				OptionID: opt.ID, Label: opt.Label, Amount: opt.Amount,
			}
			return nil
		}
	}
	return apperrors.Validation("shipping option is not available for the current address",
		map[string]string{"shipping_option_id": "must be one of the computed shipping options"})
}

// recalculate rebuilds the totals block from pricing rules. Unknown discount
// codes reject the mutation.
func (s *SessionService) recalculate(sess *domain.CheckoutSession) error {
	discount, unknown := s.pricing.Discount(sess.DiscountCodes)
	if len(unknown) > 0 {
		return apperrors.Validation("unknown discount code",
			map[string]string{"discount_codes": "unknown: " + strings.Join(unknown, ", ")})
	}
	var shipping int64
	if sess.ShippingSelection != nil {
		shipping = sess.ShippingSelection.Amount
	}
	tax := s.pricing.Tax(sess.Subtotal() + shipping)
	sess.Recalculate(tax, discount)
	return nil
}

// persist writes the session, mapping an optimistic-concurrency loss to the
// protocol's state-conflict error.
func (s *SessionService) persist(ctx context.Context, sess *domain.CheckoutSession) error {
	err := s.sessions.Update(ctx, sess)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperrors.StateConflict("session was modified concurrently, retry with its current state")
	}
	return fmt.Errorf("update session: %w", err)
}

// releaseCompletionClaim clears the claim after a capture that did not
// succeed, so the caller can retry with a fresh token. A release that loses
// a version race only matters for the claim window, so it is logged, not
// surfaced.
func (s *SessionService) releaseCompletionClaim(ctx context.Context, sess *domain.CheckoutSession) {
	sess.CompletionClaimedAt = time.Time{}
	if err := s.sessions.Update(ctx, sess); err != nil {
		s.log(ctx).WarnContext(ctx, "completion claim release failed",
			slog.String("session_id", sess.ID), slog.String("error", err.Error()))
	}
}

// persistCompletion writes the completed session. Unlike persist it does not
// give up on a version conflict: money has already moved, so the completion
// is reapplied over the fresh row and retried.
func (s *SessionService) persistCompletion(ctx context.Context, sess *domain.CheckoutSession) error {
	for attempt := 0; ; attempt++ {
		err := s.sessions.Update(ctx, sess)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= 2 {
			return fmt.Errorf("update session: %w", err)
		}
		fresh, getErr := s.sessions.GetByID(ctx, sess.ID)
		if getErr != nil {
			return fmt.Errorf("reload session after version conflict: %w", getErr)
		}
		fresh.Status = sess.Status
		fresh.PaymentReference = sess.PaymentReference
		fresh.OrderID = sess.OrderID
		fresh.CompletionClaimedAt = time.Time{}
		*sess = *fresh
	}
}

// publish hands an event to the bus. Delivery is at-least-once and off the
// request path; a full queue is logged, not surfaced to the caller.
func (s *SessionService) publish(ctx context.Context, evt event.OrderEvent) {
	evt.CorrelationID = logger.CorrelationIDFromContext(ctx)
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log(ctx).ErrorContext(ctx, "event publish failed",
			slog.String("event_type", evt.Type),
			slog.String("order_id", evt.Order.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SessionService) log(ctx context.Context) *slog.Logger {
	if l := logger.FromContext(ctx); l != slog.Default() {
		return l
	}
	return s.logger
}
