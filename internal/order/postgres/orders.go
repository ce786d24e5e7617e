package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
	"github.com/nazeru/shop-orders-go/internal/order/service"
	"github.com/nazeru/shop-orders-go/pkg/contracts"
	"github.com/nazeru/shop-orders-go/pkg/outbox"
)

var ErrIdempotencyRace = errors.New("idempotency race")

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order, its line records and an order.created outbox
// event in one transaction. Line record ids and the order id are assigned
// here.
func (r *OrderRepository) Create(ctx context.Context, input service.CreateOrderInput) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order := &domain.Order{
		ID:         domain.OrderID(uuid.NewString()),
		CustomerID: input.Customer.ID,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders(id, customer_id) VALUES($1, $2) RETURNING created_at, updated_at`,
		string(order.ID), string(order.CustomerID),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, p := range input.Products {
		op := domain.OrderProduct{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: p.ProductID,
			Quantity:  p.Quantity,
			Price:     p.Price,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO orders_products(id, order_id, product_id, quantity, price) VALUES($1, $2, $3, $4, $5)`,
			op.ID, string(op.OrderID), string(op.ProductID), op.Quantity, op.Price,
		)
		if err != nil {
			return nil, err
		}
		order.Products = append(order.Products, op)
	}

	evt := contracts.Event{
		EventID:    uuid.NewString(),
		OrderID:    string(order.ID),
		CustomerID: string(order.CustomerID),
		CreatedAt:  time.Now().UTC(),
		Type:       contracts.EventOrderCreated,
		Payload:    eventPayload(order),
	}
	if err := outbox.Insert(ctx, tx, evt.EventID, contracts.TopicOrders, evt.OrderID, evt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return order, nil
}

// FindByID returns (nil, nil) when the order does not exist.
func (r *OrderRepository) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var o domain.Order
	var rawID, rawCustomerID string
	err := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, created_at, updated_at FROM orders WHERE id=$1`,
		string(id),
	).Scan(&rawID, &rawCustomerID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.ID = domain.OrderID(rawID)
	o.CustomerID = domain.CustomerID(rawCustomerID)

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, quantity, price FROM orders_products WHERE order_id=$1 ORDER BY id`,
		string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var op domain.OrderProduct
		var orderID *string
		var productID string
		if err := rows.Scan(&op.ID, &orderID, &productID, &op.Quantity, &op.Price); err != nil {
			return nil, err
		}
		if orderID != nil {
			op.OrderID = domain.OrderID(*orderID)
		}
		op.ProductID = domain.ProductID(productID)
		o.Products = append(o.Products, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// OrderIDByIdempotencyKey returns "" when the key is unknown.
func (r *OrderRepository) OrderIDByIdempotencyKey(ctx context.Context, key string) (domain.OrderID, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var orderID string
	err := r.pool.QueryRow(ctx, `SELECT order_id FROM order_idempotency WHERE idempotency_key=$1`, key).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return domain.OrderID(orderID), nil
}

// SaveIdempotencyKey records key→order. ErrIdempotencyRace means another
// request with the same key won; the caller should re-read the stored id.
func (r *OrderRepository) SaveIdempotencyKey(ctx context.Context, key string, orderID domain.OrderID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES($1, $2)`,
		key, string(orderID),
	)
	if err != nil && isUniqueViolation(err) {
		return ErrIdempotencyRace
	}
	return err
}

func eventPayload(order *domain.Order) map[string]any {
	products := make([]map[string]any, 0, len(order.Products))
	for _, op := range order.Products {
		products = append(products, map[string]any{
			"product_id": string(op.ProductID),
			"quantity":   op.Quantity,
			"price":      op.Price,
		})
	}
	return map[string]any{
		"customer_id": string(order.CustomerID),
		"products":    products,
	}
}

// isUniqueViolation: минимальная проверка на нарушение UNIQUE.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// fallback
	return strings.Contains(strings.ToLower(err.Error()), "duplicate") ||
		strings.Contains(strings.ToLower(err.Error()), "unique")
}
