package ports

import (
	"context"

	"github.com/repolens/billing/internal/usecases"
)

// VerificationService defines the verification core as seen by workers.
type VerificationService interface {
	VerifyPayment(ctx context.Context, userID string, cb usecases.PaymentCallback) error
	ReconcilePaidOrders(ctx context.Context) (int, error)
}
