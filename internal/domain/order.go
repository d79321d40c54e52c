/**
 * @description
 * This file defines the order domain model and its request/response DTOs. An
 * order is the persisted record of an attempted purchase: it is created once
 * when the first PIX charge for a funnel session succeeds and is mutated only
 * through the authenticated admin update path afterwards.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses. An order starts pending and may move to completed or
// cancelled exactly once; no other transition is permitted.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// ValidOrderStatusTransition reports whether an order may move between the
// two statuses.
func ValidOrderStatusTransition(from, to string) bool {
	if from == to {
		return true
	}
	return from == OrderStatusPending &&
		(to == OrderStatusCompleted || to == OrderStatusCancelled)
}

// KnownOrderStatus reports whether s is one of the order status constants.
func KnownOrderStatus(s string) bool {
	return s == OrderStatusPending || s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Order maps directly to the `orders` table.
type Order struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	RobuxAmount    int       `json:"robux_amount"` // promised quantity, package + add-ons
	AmountCentavos int64     `json:"amount_centavos"`
	Status         string    `json:"status"`
	Email          *string   `json:"email,omitempty"`
	PixCode        string    `json:"pix_code"`
	TransactionID  string    `json:"transaction_id"` // gateway charge identifier
	Reference      string    `json:"reference"`      // human-facing RBX-XXXX tag
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateOrderRequest is the DTO for recording a new attempted purchase.
type CreateOrderRequest struct {
	Username       string  `json:"username"`
	RobuxAmount    int     `json:"robux_amount"`
	AmountCentavos int64   `json:"amount_centavos"`
	Email          *string `json:"email,omitempty"`
	PixCode        string  `json:"pix_code"`
	TransactionID  string  `json:"transaction_id"`
	Reference      string  `json:"reference"`
}

// UpdateOrderRequest is the DTO for the authenticated admin update path. Only
// status and email may change; nil fields are left untouched.
type UpdateOrderRequest struct {
	Status *string `json:"status,omitempty"`
	Email  *string `json:"email,omitempty"`
}

// OrderMetrics is the aggregate block returned alongside the admin listing.
type OrderMetrics struct {
	TotalOrders          int   `json:"total_orders"`
	TotalRevenueCentavos int64 `json:"total_revenue_centavos"`
	PixGenerated         int   `json:"pix_generated"`
	PaidPix              int   `json:"paid_pix"`
	PendingPix           int   `json:"pending_pix"`
}
