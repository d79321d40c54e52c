/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the funnel-service needs. Keeping an interface between the business
 * logic and PostgreSQL makes the order service testable with an in-memory
 * fake.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/rbxrewards/funnel-service/internal/domain"
)

// UpdateOrderParams carries the mutable order fields. Nil means "leave as is".
type UpdateOrderParams struct {
	Status *string
	Email  *string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// CreateOrder inserts a new order and fills in its id and timestamps.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, params UpdateOrderParams) (*domain.Order, error)
	// ListOrders returns all orders, newest first.
	ListOrders(ctx context.Context) ([]domain.Order, error)
}
