package usecases

import (
	"context"
	"fmt"

	"github.com/repolens/billing/internal/entities"
)

// EntitlementService is the read surface the frontend billing page uses.
type EntitlementService struct {
	repo EntitlementsRepository
}

func NewEntitlementService(repo EntitlementsRepository) *EntitlementService {
	return &EntitlementService{repo: repo}
}

// GetForUser never returns nil: a user without a stored row simply has an
// inactive entitlement.
func (s *EntitlementService) GetForUser(ctx context.Context, userID string) (*entities.Entitlement, error) {
	entitlement, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	if entitlement == nil {
		return &entities.Entitlement{UserID: userID, IsPro: false}, nil
	}
	return entitlement, nil
}
