/**
 * @description
 * This file contains the order-management logic for the funnel-service. The
 * `Service` struct coordinates the database repository and the event
 * producer for the order lifecycle: create on first successful charge, read
 * for the order status page, admin-gated update, and the admin listing with
 * aggregate metrics.
 *
 * @dependencies
 * - internal/domain, internal/store: domain models and data access.
 * - pkg/rabbitmq: best-effort event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/store"
	"github.com/rbxrewards/funnel-service/pkg/rabbitmq"
)

var (
	ErrUsernameRequired         = errors.New("username is required")
	ErrInvalidOrderAmount       = errors.New("order amount must be positive")
	ErrUnknownOrderStatus       = errors.New("unknown order status")
	ErrInvalidStatusTransition  = errors.New("order status may only move from pending to completed or cancelled")
	ErrNoUpdatableFieldsPresent = errors.New("update must change status or email")
)

// Service provides the order-management logic.
type Service struct {
	repo     store.Repository
	producer rabbitmq.Publisher
}

// NewService creates a new order service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	if producer == nil {
		producer = rabbitmq.NopPublisher{}
	}
	return &Service{repo: repo, producer: producer}
}

// CreateOrder persists the record of an attempted purchase and publishes the
// order-created event. Event publishing is best-effort.
func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if strings.TrimSpace(req.Username) == "" {
		return nil, ErrUsernameRequired
	}
	if req.AmountCentavos <= 0 {
		return nil, ErrInvalidOrderAmount
	}

	order := &domain.Order{
		Username:       strings.TrimSpace(req.Username),
		RobuxAmount:    req.RobuxAmount,
		AmountCentavos: req.AmountCentavos,
		Email:          req.Email,
		PixCode:        req.PixCode,
		TransactionID:  req.TransactionID,
		Reference:      req.Reference,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.producer.PublishOrderCreated(ctx, domain.OrderCreatedEvent{
		OrderID:        order.ID,
		Username:       order.Username,
		RobuxAmount:    order.RobuxAmount,
		AmountCentavos: order.AmountCentavos,
		TransactionID:  order.TransactionID,
		Timestamp:      time.Now(),
	}); err != nil {
		log.Printf("level=warn component=order_service msg=\"order created event publish failed\" order_id=%s err=%v", order.ID, err)
	}

	log.Printf("level=info component=order_service msg=\"order created\" order_id=%s username=%s amount_centavos=%d", order.ID, order.Username, order.AmountCentavos)
	return order, nil
}

// GetOrder fetches a single order for the status page.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// UpdateOrder applies an admin update. Only status and email may change, and
// status transitions are restricted to pending -> completed|cancelled.
func (s *Service) UpdateOrder(ctx context.Context, orderID uuid.UUID, req domain.UpdateOrderRequest) (*domain.Order, error) {
	if req.Status == nil && req.Email == nil {
		return nil, ErrNoUpdatableFieldsPresent
	}

	if req.Status != nil {
		if !domain.KnownOrderStatus(*req.Status) {
			return nil, ErrUnknownOrderStatus
		}
		current, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !domain.ValidOrderStatusTransition(current.Status, *req.Status) {
			return nil, ErrInvalidStatusTransition
		}
	}

	updated, err := s.repo.UpdateOrder(ctx, orderID, store.UpdateOrderParams{Status: req.Status, Email: req.Email})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=order_service msg=\"order updated\" order_id=%s status=%s", updated.ID, updated.Status)
	return updated, nil
}

// ListOrdersWithMetrics returns all orders newest-first plus the aggregate
// block the admin dashboard renders.
func (s *Service) ListOrdersWithMetrics(ctx context.Context) ([]domain.Order, *domain.OrderMetrics, error) {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, nil, err
	}

	metrics := &domain.OrderMetrics{
		TotalOrders:  len(orders),
		PixGenerated: len(orders),
	}
	for _, order := range orders {
		metrics.TotalRevenueCentavos += order.AmountCentavos
		switch order.Status {
		case domain.OrderStatusCompleted:
			metrics.PaidPix++
		case domain.OrderStatusPending:
			metrics.PendingPix++
		}
	}
	return orders, metrics, nil
}
