package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
)

type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// FindByID returns (nil, nil) when the customer does not exist.
func (r *CustomerRepository) FindByID(ctx context.Context, id domain.CustomerID) (*domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var c domain.Customer
	var rawID string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at, updated_at FROM customers WHERE id=$1`,
		string(id),
	).Scan(&rawID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ID = domain.CustomerID(rawID)
	return &c, nil
}
