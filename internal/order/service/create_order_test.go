package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
)

type fakeCustomers struct {
	customers map[domain.CustomerID]domain.Customer
	err       error
}

func (f *fakeCustomers) FindByID(ctx context.Context, id domain.CustomerID) (*domain.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type fakeProducts struct {
	products  map[domain.ProductID]domain.Product
	updates   [][]domain.StockUpdate
	findErr   error
	updateErr error
}

func (f *fakeProducts) FindAllByID(ctx context.Context, ids []domain.ProductID) ([]domain.Product, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	seen := make(map[domain.ProductID]bool)
	var out []domain.Product
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProducts) UpdateQuantity(ctx context.Context, updates []domain.StockUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updates)
	return nil
}

type fakeOrders struct {
	created []*domain.Order
	err     error
}

func (f *fakeOrders) Create(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	order := &domain.Order{
		ID:         domain.OrderID(fmt.Sprintf("order-%d", len(f.created)+1)),
		CustomerID: input.Customer.ID,
	}
	for i, p := range input.Products {
		order.Products = append(order.Products, domain.OrderProduct{
			ID:        fmt.Sprintf("line-%d", i+1),
			OrderID:   order.ID,
			ProductID: p.ProductID,
			Quantity:  p.Quantity,
			Price:     p.Price,
		})
	}
	f.created = append(f.created, order)
	return order, nil
}

func newFixture() (*CreateOrderService, *fakeCustomers, *fakeProducts, *fakeOrders) {
	customers := &fakeCustomers{customers: map[domain.CustomerID]domain.Customer{
		"c1": {ID: "c1", Name: "Alice", Email: "alice@example.com"},
	}}
	products := &fakeProducts{products: map[domain.ProductID]domain.Product{
		"p1": {ID: "p1", Name: "Keyboard", Price: 100, Quantity: 10},
		"p2": {ID: "p2", Name: "Mouse", Price: 50, Quantity: 5},
	}}
	orders := &fakeOrders{}
	return NewCreateOrderService(orders, products, customers), customers, products, orders
}

func line(id domain.ProductID, qty int32) domain.OrderLine {
	return domain.OrderLine{ProductID: id, Quantity: qty}
}

func TestCreateOrder_CustomerNotFound(t *testing.T) {
	svc, _, products, orders := newFixture()

	order, err := svc.CreateOrder(context.Background(), "nobody", []domain.OrderLine{line("p1", 1)})

	require.Error(t, err)
	assert.Nil(t, order)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCustomerNotFound, kind)
	assert.Empty(t, orders.created)
	assert.Empty(t, products.updates)
}

func TestCreateOrder_NoProductsFound(t *testing.T) {
	svc, _, products, orders := newFixture()

	_, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{
		line("ghost-1", 1),
		line("ghost-2", 2),
	})

	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrNoProductsFound, kind)
	assert.Empty(t, orders.created)
	assert.Empty(t, products.updates)
}

func TestCreateOrder_ProductsNotFound_NamesMissingIDs(t *testing.T) {
	svc, _, products, orders := newFixture()

	_, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{
		line("p1", 1),
		line("ghost-1", 1),
		line("ghost-2", 1),
	})

	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrProductsNotFound, kind)
	assert.Contains(t, err.Error(), "ghost-1")
	assert.Contains(t, err.Error(), "ghost-2")
	assert.NotContains(t, err.Error(), "p1")
	assert.Empty(t, orders.created)
	assert.Empty(t, products.updates)
}

func TestCreateOrder_InsufficientStock_NamesOffendingLine(t *testing.T) {
	svc, _, products, orders := newFixture()

	// p2 has 5 in stock; 6 requested.
	_, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{
		line("p1", 1),
		line("p2", 6),
	})

	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrInsufficientStock, kind)
	assert.Contains(t, err.Error(), "p2")
	assert.NotContains(t, err.Error(), "p1")
	assert.Empty(t, orders.created)
	assert.Empty(t, products.updates)
}

func TestCreateOrder_HappyPath(t *testing.T) {
	svc, _, products, orders := newFixture()

	order, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 3)})

	require.NoError(t, err)
	require.NotNil(t, order)
	require.Len(t, order.Products, 1)
	assert.Equal(t, domain.ProductID("p1"), order.Products[0].ProductID)
	assert.Equal(t, int32(3), order.Products[0].Quantity)
	assert.Equal(t, int64(100), order.Products[0].Price)

	require.Len(t, orders.created, 1)
	require.Len(t, products.updates, 1)
	assert.Equal(t, []domain.StockUpdate{{ProductID: "p1", Quantity: 7}}, products.updates[0])
}

func TestCreateOrder_PriceIsSnapshot(t *testing.T) {
	svc, _, products, _ := newFixture()

	order, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 1)})
	require.NoError(t, err)

	// A later price change must not affect the already-created order.
	p := products.products["p1"]
	p.Price = 999
	products.products["p1"] = p

	assert.Equal(t, int64(100), order.Products[0].Price)

	second, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(999), second.Products[0].Price)
}

func TestCreateOrder_DuplicateLinesCheckedAgainstOriginalStock(t *testing.T) {
	svc, _, products, _ := newFixture()

	// p2 has 5 in stock. Two lines of 3 exceed it combined, but each line is
	// checked against the snapshot independently, so the order goes through
	// and both updates are computed from the original figure.
	order, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{
		line("p2", 3),
		line("p2", 3),
	})

	require.NoError(t, err)
	require.Len(t, order.Products, 2)
	require.Len(t, products.updates, 1)
	assert.Equal(t, []domain.StockUpdate{
		{ProductID: "p2", Quantity: 2},
		{ProductID: "p2", Quantity: 2},
	}, products.updates[0])
}

func TestCreateOrder_TwoCallsCreateTwoOrders(t *testing.T) {
	svc, _, products, orders := newFixture()

	first, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 3)})
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 3)})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, orders.created, 2)
	assert.Len(t, products.updates, 2)
}

func TestCreateOrder_RepositoryErrorsAreNotDomainErrors(t *testing.T) {
	svc, customers, _, _ := newFixture()
	customers.err = errors.New("connection refused")

	_, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 1)})

	require.Error(t, err)
	_, ok := domain.KindOf(err)
	assert.False(t, ok)
}

func TestCreateOrder_NoRollbackWhenStockUpdateFails(t *testing.T) {
	svc, _, products, orders := newFixture()
	products.updateErr = errors.New("connection refused")

	_, err := svc.CreateOrder(context.Background(), "c1", []domain.OrderLine{line("p1", 3)})

	require.Error(t, err)
	_, ok := domain.KindOf(err)
	assert.False(t, ok)
	// The order stays persisted even though the stock write failed.
	assert.Len(t, orders.created, 1)
}
