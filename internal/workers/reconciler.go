package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/repolens/billing/internal/core/ports"
)

// EntitlementReconciler sweeps for paid orders whose owner never got the pro
// flag (a partial commit during verification) and retries the activation.
type EntitlementReconciler struct {
	logger       *slog.Logger
	verification ports.VerificationService

	// How often to run a reconciliation pass.
	interval time.Duration
}

func NewEntitlementReconciler(logger *slog.Logger, verification ports.VerificationService, interval time.Duration) *EntitlementReconciler {
	return &EntitlementReconciler{
		logger:       logger,
		verification: verification,
		interval:     interval,
	}
}

// Start begins periodic reconciliation until the context is cancelled.
func (er *EntitlementReconciler) Start(ctx context.Context) {
	er.logger.Info("Starting entitlement reconciler worker", "interval", er.interval.String())

	// Run an initial pass immediately
	if err := er.reconcile(ctx); err != nil {
		er.logger.Error("Initial reconciliation pass failed", "error", err)
	}

	ticker := time.NewTicker(er.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			er.logger.Info("Entitlement reconciler worker stopped")
			return
		case <-ticker.C:
			if err := er.reconcile(ctx); err != nil {
				er.logger.Error("Reconciliation pass failed", "error", err)
			}
		}
	}
}

func (er *EntitlementReconciler) reconcile(ctx context.Context) error {
	repaired, err := er.verification.ReconcilePaidOrders(ctx)
	if err != nil {
		return err
	}

	if repaired > 0 {
		er.logger.Info("Repaired paid orders without entitlement", "count", repaired)
	} else {
		er.logger.Debug("No paid orders pending reconciliation")
	}

	return nil
}
