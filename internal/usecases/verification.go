package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/repolens/billing/internal/entities"
)

var (
	// ErrMissingFields means the callback payload lacks a required field.
	ErrMissingFields = errors.New("missing required fields")
	// ErrOrderNotFound means no order with that id exists for the caller.
	ErrOrderNotFound = errors.New("order not found")
	// ErrBadSignature means the callback signature does not match.
	ErrBadSignature = errors.New("signature mismatch")
	// ErrAlreadyProcessed means the order was resolved to failed earlier;
	// a late success callback does not resurrect it.
	ErrAlreadyProcessed = errors.New("order already processed")
	// ErrEntitlementFault means the order is marked paid but the entitlement
	// could not be activated. The reconciler worker picks these up.
	ErrEntitlementFault = errors.New("entitlement activation failed")
)

type OrdersRepository interface {
	FindOrderForUser(ctx context.Context, orderID, userID string) (*entities.Order, error)
	MarkOrderResult(ctx context.Context, orderID, userID, paymentID string, status entities.OrderStatus) (bool, error)
	FindPaidWithoutEntitlement(ctx context.Context) ([]entities.Order, error)
}

type EntitlementsRepository interface {
	Activate(ctx context.Context, userID string) (bool, error)
	FindByUser(ctx context.Context, userID string) (*entities.Entitlement, error)
}

// PaymentCallback is the untrusted payload the gateway-facing client posts
// after checkout. Nothing in it is believed until the signature verifies.
type PaymentCallback struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// VerificationService decides whether a payment callback is genuine and, on
// the first genuine callback per order, activates the owner's entitlement.
type VerificationService struct {
	logger       *slog.Logger
	verifier     *SignatureVerifier
	orders       OrdersRepository
	entitlements EntitlementsRepository
}

func NewVerificationService(logger *slog.Logger, verifier *SignatureVerifier, orders OrdersRepository, entitlements EntitlementsRepository) *VerificationService {
	return &VerificationService{
		logger:       logger,
		verifier:     verifier,
		orders:       orders,
		entitlements: entitlements,
	}
}

// VerifyPayment runs the whole flow for one callback: validate the payload,
// load the order scoped to the caller, check the signature, then perform the
// conditional commit. Safe to call concurrently and safe to retry: the
// pending-status guard in MarkOrderResult arbitrates races, and a replay of an
// already-successful order is a plain success with no further side effects.
func (s *VerificationService) VerifyPayment(ctx context.Context, userID string, cb PaymentCallback) error {
	if cb.OrderID == "" || cb.PaymentID == "" || cb.Signature == "" {
		return ErrMissingFields
	}

	order, err := s.orders.FindOrderForUser(ctx, cb.OrderID, userID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return ErrOrderNotFound
	}

	// A forged callback must not poison the order, so the signature check
	// happens before any write. On mismatch the order stays pending.
	if !s.verifier.Verify(order.ID, cb.PaymentID, cb.Signature) {
		s.logger.WarnContext(ctx, "payment signature mismatch",
			"order_id", order.ID, "user_id", userID)
		return ErrBadSignature
	}

	switch order.Status {
	case entities.OrderStatusSuccess:
		// Retry of a verified payment, nothing left to do.
		return nil
	case entities.OrderStatusFailed:
		return ErrAlreadyProcessed
	}

	won, err := s.orders.MarkOrderResult(ctx, order.ID, userID, cb.PaymentID, entities.OrderStatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to mark order result: %w", err)
	}
	if !won {
		// A concurrent callback committed first; it owns the activation.
		s.logger.InfoContext(ctx, "order already transitioned by concurrent callback",
			"order_id", order.ID, "user_id", userID)
		return nil
	}

	if _, err = s.entitlements.Activate(ctx, userID); err != nil {
		// Order is paid but the flag is not set. Surfaced loudly and left
		// for the reconciler rather than retried inside this request.
		s.logger.ErrorContext(ctx, "paid order without active entitlement, reconciliation required",
			"order_id", order.ID, "user_id", userID, "error", err)
		return ErrEntitlementFault
	}

	s.logger.InfoContext(ctx, "payment verified and entitlement activated",
		"order_id", order.ID, "user_id", userID)

	return nil
}

// ReconcilePaidOrders retries entitlement activation for orders that were
// marked paid while the activation write failed. Returns how many owners were
// repaired in this pass.
func (s *VerificationService) ReconcilePaidOrders(ctx context.Context) (int, error) {
	orders, err := s.orders.FindPaidWithoutEntitlement(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find unreconciled orders: %w", err)
	}

	repaired := 0
	seen := make(map[string]struct{}, len(orders))

	for _, order := range orders {
		if _, ok := seen[order.UserID]; ok {
			continue
		}
		seen[order.UserID] = struct{}{}

		activated, err := s.entitlements.Activate(ctx, order.UserID)
		if err != nil {
			s.logger.ErrorContext(ctx, "reconciliation attempt failed",
				"order_id", order.ID, "user_id", order.UserID, "error", err)
			continue
		}
		if activated {
			s.logger.InfoContext(ctx, "reconciled paid order",
				"order_id", order.ID, "user_id", order.UserID)
			repaired++
		}
	}

	return repaired, nil
}
