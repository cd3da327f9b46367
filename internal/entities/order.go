package entities

import "time"

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusSuccess OrderStatus = "success"
	OrderStatusFailed  OrderStatus = "failed"
)

// Pro plan pricing as agreed with the gateway. Amount is in minor units
// (paise), matching what the order-creation collaborator sends to checkout.
const (
	ProPlanAmount   int64 = 99900
	ProPlanCurrency       = "INR"
)

// Order is a purchase attempt created before the user is sent to the
// gateway checkout. Only the verification flow moves it out of pending.
type Order struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Amount           int64       `json:"amount"`
	Currency         string      `json:"currency"`
	GatewayPaymentID *string     `json:"gateway_payment_id"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
