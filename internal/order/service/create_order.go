package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
	"github.com/nazeru/shop-orders-go/pkg/logging"
)

// CustomerRepository resolves customers by id. FindByID returns (nil, nil)
// when no customer matches.
type CustomerRepository interface {
	FindByID(ctx context.Context, id domain.CustomerID) (*domain.Customer, error)
}

// ProductRepository resolves and mutates product stock. FindAllByID returns
// only the matching products, silently omitting unknown ids. UpdateQuantity
// overwrites the stored quantity of each listed product.
type ProductRepository interface {
	FindAllByID(ctx context.Context, ids []domain.ProductID) ([]domain.Product, error)
	UpdateQuantity(ctx context.Context, updates []domain.StockUpdate) error
}

// LineItemInput is one priced line handed to the order repository.
type LineItemInput struct {
	ProductID domain.ProductID
	Quantity  int32
	Price     int64
}

type CreateOrderInput struct {
	Customer *domain.Customer
	Products []LineItemInput
}

// OrderRepository persists orders. Create assigns the order id and the
// per-line record ids.
type OrderRepository interface {
	Create(ctx context.Context, input CreateOrderInput) (*domain.Order, error)
}

// CreateOrderService runs the order-creation workflow: validate the customer
// and the requested products, price the lines, persist the order and lower
// the stock. All collaborators are injected via the constructor.
type CreateOrderService struct {
	orders    OrderRepository
	products  ProductRepository
	customers CustomerRepository
}

func NewCreateOrderService(
	orders OrderRepository,
	products ProductRepository,
	customers CustomerRepository,
) *CreateOrderService {
	return &CreateOrderService{
		orders:    orders,
		products:  products,
		customers: customers,
	}
}

// CreateOrder validates and persists one order.
//
// Stock checks read a single snapshot taken by the batch lookup: duplicate
// lines for the same product are each checked against the original figure,
// and the later update writes original-minus-requested rather than issuing an
// atomic decrement. Concurrent calls for the same product can therefore
// oversell. If persisting the order succeeds and the stock update fails, no
// compensating action is taken.
func (s *CreateOrderService) CreateOrder(ctx context.Context, customerID domain.CustomerID, lines []domain.OrderLine) (*domain.Order, error) {
	start := time.Now()

	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if customer == nil {
		return nil, domain.ErrCustomerNotFoundf(customerID)
	}

	ids := make([]domain.ProductID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	existent, err := s.products.FindAllByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	if len(existent) == 0 {
		return nil, domain.ErrNoProductsFoundf()
	}

	byID := make(map[domain.ProductID]domain.Product, len(existent))
	for _, p := range existent {
		byID[p.ID] = p
	}

	var missing []domain.ProductID
	for _, line := range lines {
		if _, ok := byID[line.ProductID]; !ok {
			missing = append(missing, line.ProductID)
		}
	}
	if len(missing) > 0 {
		return nil, domain.ErrProductsNotFoundf(missing)
	}

	var unavailable []domain.OrderLine
	for _, line := range lines {
		if byID[line.ProductID].Quantity < line.Quantity {
			unavailable = append(unavailable, line)
		}
	}
	if len(unavailable) > 0 {
		return nil, domain.ErrInsufficientStockf(unavailable)
	}

	serialized := make([]LineItemInput, 0, len(lines))
	for _, line := range lines {
		serialized = append(serialized, LineItemInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     byID[line.ProductID].Price,
		})
	}

	order, err := s.orders.Create(ctx, CreateOrderInput{
		Customer: customer,
		Products: serialized,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// Пересчёт остатков от снапшота, а не повторным чтением из базы.
	updates := make([]domain.StockUpdate, 0, len(order.Products))
	for _, op := range order.Products {
		updates = append(updates, domain.StockUpdate{
			ProductID: op.ProductID,
			Quantity:  byID[op.ProductID].Quantity - op.Quantity,
		})
	}
	if err := s.products.UpdateQuantity(ctx, updates); err != nil {
		return nil, fmt.Errorf("update product quantities: %w", err)
	}

	logging.Log(logging.Fields{
		Service:    "order_service",
		OrderID:    string(order.ID),
		CustomerID: string(customerID),
		Step:       "create_order",
		Status:     "created",
		DurationMS: time.Since(start).Milliseconds(),
	})
	return order, nil
}
