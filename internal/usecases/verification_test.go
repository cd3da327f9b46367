package usecases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/repolens/billing/internal/entities"
)

type stubOrders struct {
	orders map[string]*entities.Order

	markCalls    int
	forceNoWin   bool
	unreconciled []entities.Order
}

func (s *stubOrders) FindOrderForUser(_ context.Context, orderID, userID string) (*entities.Order, error) {
	order, ok := s.orders[orderID]
	if !ok || order.UserID != userID {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

func (s *stubOrders) MarkOrderResult(_ context.Context, orderID, userID, paymentID string, status entities.OrderStatus) (bool, error) {
	s.markCalls++
	if s.forceNoWin {
		return false, nil
	}
	order, ok := s.orders[orderID]
	if !ok || order.UserID != userID || order.Status != entities.OrderStatusPending {
		return false, nil
	}
	order.Status = status
	order.GatewayPaymentID = pointy.String(paymentID)
	return true, nil
}

func (s *stubOrders) FindPaidWithoutEntitlement(_ context.Context) ([]entities.Order, error) {
	return s.unreconciled, nil
}

type stubEntitlements struct {
	active map[string]bool

	activateCalls int
	flips         int
	activateErr   error
}

func (s *stubEntitlements) Activate(_ context.Context, userID string) (bool, error) {
	s.activateCalls++
	if s.activateErr != nil {
		return false, s.activateErr
	}
	if s.active[userID] {
		return false, nil
	}
	s.active[userID] = true
	s.flips++
	return true, nil
}

func (s *stubEntitlements) FindByUser(_ context.Context, userID string) (*entities.Entitlement, error) {
	if !s.active[userID] {
		return nil, nil
	}
	return &entities.Entitlement{UserID: userID, IsPro: true}, nil
}

func newTestService(t *testing.T) (*VerificationService, *stubOrders, *stubEntitlements) {
	t.Helper()

	verifier, err := NewSignatureVerifier(testWebhookSecret)
	require.NoError(t, err)

	orders := &stubOrders{orders: map[string]*entities.Order{}}
	entitlements := &stubEntitlements{active: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewVerificationService(logger, verifier, orders, entitlements), orders, entitlements
}

func seedPendingOrder(orders *stubOrders, id, userID string) {
	orders.orders[id] = &entities.Order{
		ID:       id,
		UserID:   userID,
		Amount:   entities.ProPlanAmount,
		Currency: entities.ProPlanCurrency,
		Status:   entities.OrderStatusPending,
	}
}

func TestVerifyPaymentHappyPath(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")

	err := svc.VerifyPayment(context.Background(), "user_a", PaymentCallback{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: validSignature,
	})
	require.NoError(t, err)

	require.Equal(t, entities.OrderStatusSuccess, orders.orders["order_1"].Status)
	require.Equal(t, pointy.String("pay_1"), orders.orders["order_1"].GatewayPaymentID)
	require.True(t, entitlements.active["user_a"])
	require.Equal(t, 1, entitlements.activateCalls)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")

	cb := PaymentCallback{OrderID: "order_1", PaymentID: "pay_1", Signature: validSignature}

	require.NoError(t, svc.VerifyPayment(context.Background(), "user_a", cb))
	require.NoError(t, svc.VerifyPayment(context.Background(), "user_a", cb))

	// The replay resolves before the conditional write, and the entitlement
	// was activated exactly once.
	require.Equal(t, 1, orders.markCalls)
	require.Equal(t, 1, entitlements.flips)
}

func TestVerifyPaymentForgeryLeavesOrderUntouched(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")

	err := svc.VerifyPayment(context.Background(), "user_a", PaymentCallback{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: strings.Repeat("00", 32),
	})
	require.ErrorIs(t, err, ErrBadSignature)

	require.Equal(t, entities.OrderStatusPending, orders.orders["order_1"].Status)
	require.Nil(t, orders.orders["order_1"].GatewayPaymentID)
	require.Zero(t, orders.markCalls)
	require.Zero(t, entitlements.activateCalls)
}

func TestVerifyPaymentDeniesForeignOrder(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")

	// A valid gateway signature does not help a caller who does not own the order.
	err := svc.VerifyPayment(context.Background(), "user_b", PaymentCallback{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: validSignature,
	})
	require.ErrorIs(t, err, ErrOrderNotFound)
	require.Equal(t, entities.OrderStatusPending, orders.orders["order_1"].Status)
	require.Zero(t, entitlements.activateCalls)
}

func TestVerifyPaymentRequiresAllFields(t *testing.T) {
	svc, _, entitlements := newTestService(t)

	for _, cb := range []PaymentCallback{
		{PaymentID: "pay_1", Signature: validSignature},
		{OrderID: "order_1", Signature: validSignature},
		{OrderID: "order_1", PaymentID: "pay_1"},
		{},
	} {
		err := svc.VerifyPayment(context.Background(), "user_a", cb)
		require.ErrorIs(t, err, ErrMissingFields)
	}
	require.Zero(t, entitlements.activateCalls)
}

func TestVerifyPaymentConcurrentLoserSucceedsWithoutActivation(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")
	orders.forceNoWin = true

	// The order still reads as pending but another callback wins the
	// conditional write in between: the loser exits via the success path.
	err := svc.VerifyPayment(context.Background(), "user_a", PaymentCallback{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: validSignature,
	})
	require.NoError(t, err)
	require.Zero(t, entitlements.activateCalls)
}

func TestVerifyPaymentDoesNotResurrectFailedOrder(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")
	orders.orders["order_1"].Status = entities.OrderStatusFailed

	err := svc.VerifyPayment(context.Background(), "user_a", PaymentCallback{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: validSignature,
	})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Equal(t, entities.OrderStatusFailed, orders.orders["order_1"].Status)
	require.Zero(t, entitlements.activateCalls)
}

func TestVerifyPaymentSurfacesEntitlementFault(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	seedPendingOrder(orders, "order_1", "user_a")
	entitlements.activateErr = errors.New("connection reset")

	err := svc.VerifyPayment(context.Background(), "user_a", PaymentCallback{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: validSignature,
	})
	require.ErrorIs(t, err, ErrEntitlementFault)

	// The order commit already happened; the reconciler owns the repair.
	require.Equal(t, entities.OrderStatusSuccess, orders.orders["order_1"].Status)
}

func TestReconcilePaidOrders(t *testing.T) {
	svc, orders, entitlements := newTestService(t)
	orders.unreconciled = []entities.Order{
		{ID: "order_1", UserID: "user_a", Status: entities.OrderStatusSuccess, GatewayPaymentID: pointy.String("pay_1")},
		{ID: "order_2", UserID: "user_a", Status: entities.OrderStatusSuccess, GatewayPaymentID: pointy.String("pay_2")},
		{ID: "order_3", UserID: "user_b", Status: entities.OrderStatusSuccess, GatewayPaymentID: pointy.String("pay_3")},
	}

	repaired, err := svc.ReconcilePaidOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repaired)

	// Two orders for the same owner fund a single activation.
	require.Equal(t, 2, entitlements.activateCalls)
	require.True(t, entitlements.active["user_a"])
	require.True(t, entitlements.active["user_b"])
}
