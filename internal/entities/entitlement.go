package entities

import "time"

// Entitlement gates access to the paid analysis features. IsPro only ever
// transitions to true here; downgrades are handled elsewhere.
type Entitlement struct {
	UserID      string     `json:"user_id"`
	IsPro       bool       `json:"is_pro"`
	ActivatedAt *time.Time `json:"activated_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
