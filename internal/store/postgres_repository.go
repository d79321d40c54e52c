/**
 * @description
 * PostgreSQL implementation of the `Repository` interface over the single
 * `orders` table.
 *
 * Expected schema:
 *
 *   CREATE TABLE orders (
 *     id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
 *     username        TEXT NOT NULL,
 *     robux_amount    BIGINT NOT NULL,
 *     amount_centavos BIGINT NOT NULL,
 *     status          TEXT NOT NULL DEFAULT 'pending',
 *     email           TEXT,
 *     pix_code        TEXT NOT NULL,
 *     transaction_id  TEXT NOT NULL,
 *     reference       TEXT NOT NULL DEFAULT '',
 *     created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
 *     updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
 *   );
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: the PostgreSQL driver.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rbxrewards/funnel-service/internal/domain"
)

var (
	ErrOrderNotFound = errors.New("order not found")
)

// PostgresRepository is a concrete implementation of Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, username, robux_amount, amount_centavos, status, email, pix_code, transaction_id, reference, created_at, updated_at`

func scanOrder(row pgx.Row, order *domain.Order) error {
	return row.Scan(
		&order.ID,
		&order.Username,
		&order.RobuxAmount,
		&order.AmountCentavos,
		&order.Status,
		&order.Email,
		&order.PixCode,
		&order.TransactionID,
		&order.Reference,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
}

// CreateOrder inserts a new order row; id, status and timestamps come back
// from the database so the caller sees exactly what was persisted.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (username, robux_amount, amount_centavos, status, email, pix_code, transaction_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + orderColumns
	row := r.db.QueryRow(ctx, query,
		order.Username,
		order.RobuxAmount,
		order.AmountCentavos,
		domain.OrderStatusPending,
		order.Email,
		order.PixCode,
		order.TransactionID,
		order.Reference,
	)
	return scanOrder(row, order)
}

// GetOrderByID retrieves a single order.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	err := scanOrder(r.db.QueryRow(ctx, query, orderID), &order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrder applies the admin-mutable fields and bumps updated_at.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, orderID uuid.UUID, params UpdateOrderParams) (*domain.Order, error) {
	var order domain.Order
	query := `
		UPDATE orders
		SET status = COALESCE($2, status),
		    email = COALESCE($3, email),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns
	err := scanOrder(r.db.QueryRow(ctx, query, orderID, params.Status, params.Email), &order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns every order, newest first.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
