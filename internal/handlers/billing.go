package handlers

import (
	"context"

	"github.com/repolens/billing/internal/entities"
	"github.com/repolens/billing/internal/usecases"
)

type VerificationService interface {
	VerifyPayment(ctx context.Context, userID string, cb usecases.PaymentCallback) error
}

type EntitlementService interface {
	GetForUser(ctx context.Context, userID string) (*entities.Entitlement, error)
}
