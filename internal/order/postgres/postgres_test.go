package postgres_test

import (
	"context"
	"log"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
	"github.com/nazeru/shop-orders-go/internal/order/postgres"
	"github.com/nazeru/shop-orders-go/internal/order/service"
)

// RepositorySuite runs the repositories against a disposable Postgres with
// the real migrations applied.
type RepositorySuite struct {
	suite.Suite
	pool      *pgxpool.Pool
	container *tcpostgres.PostgresContainer

	customers *postgres.CustomerRepository
	products  *postgres.ProductRepository
	orders    *postgres.OrderRepository
}

func TestRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in -short mode")
	}
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	ctx := context.Background()

	_, b, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(b), "../../../migrations")

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.WithInitScripts(
			filepath.Join(migrationsDir, "0001_init.up.sql"),
			filepath.Join(migrationsDir, "0002_add_order_id_to_orders_products.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("could not get connection string: %s", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("could not connect to test database: %s", err)
	}

	s.pool = pool
	s.container = container
	s.customers = postgres.NewCustomerRepository(pool)
	s.products = postgres.NewProductRepository(pool)
	s.orders = postgres.NewOrderRepository(pool)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			log.Fatalf("failed to terminate postgres container: %s", err)
		}
	}
}

func (s *RepositorySuite) SetupTest() {
	for _, table := range []string{"outbox", "order_idempotency", "orders_products", "orders", "products", "customers"} {
		_, err := s.pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" RESTART IDENTITY CASCADE")
		s.Require().NoError(err, "failed to truncate table %s", table)
	}
}

func (s *RepositorySuite) insertCustomer(name, email string) domain.CustomerID {
	id := uuid.NewString()
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO customers(id, name, email) VALUES($1, $2, $3)`, id, name, email)
	s.Require().NoError(err)
	return domain.CustomerID(id)
}

func (s *RepositorySuite) insertProduct(name string, price int64, quantity int32) domain.ProductID {
	id := uuid.NewString()
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO products(id, name, price, quantity) VALUES($1, $2, $3, $4)`, id, name, price, quantity)
	s.Require().NoError(err)
	return domain.ProductID(id)
}

func (s *RepositorySuite) TestCustomerFindByID() {
	ctx := context.Background()
	id := s.insertCustomer("Alice", "alice@example.com")

	customer, err := s.customers.FindByID(ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(customer)
	s.Equal(id, customer.ID)
	s.Equal("Alice", customer.Name)

	absent, err := s.customers.FindByID(ctx, domain.CustomerID(uuid.NewString()))
	s.Require().NoError(err)
	s.Nil(absent)
}

func (s *RepositorySuite) TestProductFindAllByIDOmitsUnknown() {
	ctx := context.Background()
	p1 := s.insertProduct("Keyboard", 10000, 10)
	p2 := s.insertProduct("Mouse", 5000, 5)

	found, err := s.products.FindAllByID(ctx, []domain.ProductID{p1, p2, domain.ProductID(uuid.NewString())})
	s.Require().NoError(err)
	s.Len(found, 2)
}

func (s *RepositorySuite) TestProductUpdateQuantityBatch() {
	ctx := context.Background()
	p1 := s.insertProduct("Keyboard", 10000, 10)
	p2 := s.insertProduct("Mouse", 5000, 5)

	err := s.products.UpdateQuantity(ctx, []domain.StockUpdate{
		{ProductID: p1, Quantity: 7},
		{ProductID: p2, Quantity: 0},
	})
	s.Require().NoError(err)

	found, err := s.products.FindAllByID(ctx, []domain.ProductID{p1, p2})
	s.Require().NoError(err)
	quantities := map[domain.ProductID]int32{}
	for _, p := range found {
		quantities[p.ID] = p.Quantity
	}
	s.Equal(int32(7), quantities[p1])
	s.Equal(int32(0), quantities[p2])
}

func (s *RepositorySuite) TestCreateOrderWorkflowEndToEnd() {
	ctx := context.Background()
	customerID := s.insertCustomer("Alice", "alice@example.com")
	productID := s.insertProduct("Keyboard", 100, 10)

	svc := service.NewCreateOrderService(s.orders, s.products, s.customers)
	order, err := svc.CreateOrder(ctx, customerID, []domain.OrderLine{
		{ProductID: productID, Quantity: 3},
	})
	s.Require().NoError(err)
	s.Require().NotNil(order)
	s.Require().Len(order.Products, 1)
	s.Equal(int64(100), order.Products[0].Price)
	s.Equal(int32(3), order.Products[0].Quantity)

	// Line rows carry the order id added by the second migration.
	stored, err := s.orders.FindByID(ctx, order.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored)
	s.Require().Len(stored.Products, 1)
	s.Equal(order.ID, stored.Products[0].OrderID)

	// Stock was overwritten to original minus requested.
	found, err := s.products.FindAllByID(ctx, []domain.ProductID{productID})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(int32(7), found[0].Quantity)

	// The order.created event is waiting in the outbox.
	var count int
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE key=$1 AND sent_at IS NULL`, string(order.ID)).Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *RepositorySuite) TestOrderFindByIDUnknown() {
	order, err := s.orders.FindByID(context.Background(), domain.OrderID(uuid.NewString()))
	s.Require().NoError(err)
	s.Nil(order)
}

func (s *RepositorySuite) TestIdempotencyKeyRoundTrip() {
	ctx := context.Background()
	orderID := domain.OrderID(uuid.NewString())

	got, err := s.orders.OrderIDByIdempotencyKey(ctx, "key-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderID(""), got)

	s.Require().NoError(s.orders.SaveIdempotencyKey(ctx, "key-1", orderID))

	got, err = s.orders.OrderIDByIdempotencyKey(ctx, "key-1")
	s.Require().NoError(err)
	s.Equal(orderID, got)

	err = s.orders.SaveIdempotencyKey(ctx, "key-1", domain.OrderID(uuid.NewString()))
	s.Require().ErrorIs(err, postgres.ErrIdempotencyRace)
}
