package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

const getOrderSQL = `
SELECT id, order_number, user_id, status::text, payment_status::text, total_amount::text, created_at, updated_at
FROM orders
WHERE id = $1`

type OrderRepo struct {
	pool *pgxpool.Pool
}

var _ domain.OrderRepository = (*OrderRepo)(nil)

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var (
		o             domain.Order
		status, pstat string
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, orderID).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &status, &pstat, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by ID: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(pstat)
	return &o, nil
}
