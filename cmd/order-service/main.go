package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
	"github.com/nazeru/shop-orders-go/internal/order/postgres"
	"github.com/nazeru/shop-orders-go/internal/order/service"
	"github.com/nazeru/shop-orders-go/pkg/idempotency"
	"github.com/nazeru/shop-orders-go/pkg/kafka"
	"github.com/nazeru/shop-orders-go/pkg/metrics"
	"github.com/nazeru/shop-orders-go/pkg/outbox"
)

type cfg struct {
	Port           string
	DatabaseURL    string
	KafkaBrokers   string
	RelayInterval  time.Duration
	RelayBatchSize int
}

func readCfg() (cfg, error) {
	port := getenv("PORT", "8080")
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	relayMS, _ := strconv.Atoi(getenv("OUTBOX_RELAY_INTERVAL_MS", "500"))
	batch, _ := strconv.Atoi(getenv("OUTBOX_RELAY_BATCH", "100"))

	return cfg{
		Port:           port,
		DatabaseURL:    db,
		KafkaBrokers:   getenv("KAFKA_BROKERS", ""),
		RelayInterval:  time.Duration(relayMS) * time.Millisecond,
		RelayBatchSize: batch,
	}, nil
}

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type CreateOrderRequest struct {
	CustomerID string `json:"customer_id"`
	Products   []Item `json:"products"`
}

type OrderProductResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id,omitempty"`
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     int64  `json:"price"`
}

type OrderResponse struct {
	ID         string                 `json:"id"`
	CustomerID string                 `json:"customer_id"`
	Products   []OrderProductResponse `json:"order_products"`
	CreatedAt  time.Time              `json:"created_at"`
	Status     string                 `json:"status,omitempty"`
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	orders := postgres.NewOrderRepository(pool)
	products := postgres.NewProductRepository(pool)
	customers := postgres.NewCustomerRepository(pool)
	createOrder := service.NewCreateOrderService(orders, products, customers)

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		relay := outbox.NewRelay(outbox.PoolStore{Pool: pool}, outbox.NewKafkaPublisher(kafkaClient), cfg.RelayBatchSize, cfg.RelayInterval)
		relay.Start(context.Background())
		defer relay.Stop()
	}

	srvMetrics := metrics.NewServerMetrics("order_service")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := handleCreateOrder(createOrder, orders, w, r)
		srvMetrics.Requests.WithLabelValues("create_order", strconv.Itoa(status)).Inc()
		srvMetrics.LatencyMS.WithLabelValues("create_order").Observe(float64(time.Since(start).Milliseconds()))
	})
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := handleGetOrder(orders, w, r)
		srvMetrics.Requests.WithLabelValues("get_order", strconv.Itoa(status)).Inc()
		srvMetrics.LatencyMS.WithLabelValues("get_order").Observe(float64(time.Since(start).Milliseconds()))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("order-service listening on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func handleCreateOrder(svc *service.CreateOrderService, orders *postgres.OrderRepository, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		return writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return writeJSON(w, http.StatusBadRequest, map[string]any{"error": "customer_id is required"})
	}
	if len(req.Products) == 0 {
		return writeJSON(w, http.StatusBadRequest, map[string]any{"error": "products is required"})
	}
	for _, it := range req.Products {
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 {
			return writeJSON(w, http.StatusBadRequest, map[string]any{"error": "each product must have product_id and quantity > 0"})
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Идемпотентность: если ключ уже есть, вернём существующий заказ.
	idemKey := idempotency.Key(r)
	if idemKey != "" && !idempotency.Valid(idemKey) {
		return writeJSON(w, http.StatusBadRequest, map[string]any{"error": "idempotency key too long"})
	}
	if idemKey != "" {
		if existing, err := orders.OrderIDByIdempotencyKey(ctx, idemKey); err == nil && existing != "" {
			return replayOrder(ctx, orders, existing, w)
		}
	}

	lines := make([]domain.OrderLine, 0, len(req.Products))
	for _, it := range req.Products {
		lines = append(lines, domain.OrderLine{
			ProductID: domain.ProductID(it.ProductID),
			Quantity:  it.Quantity,
		})
	}

	order, err := svc.CreateOrder(ctx, domain.CustomerID(req.CustomerID), lines)
	if err != nil {
		if kind, ok := domain.KindOf(err); ok {
			return writeJSON(w, domainStatus(kind), map[string]any{"error": err.Error(), "kind": string(kind)})
		}
		return writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}

	if idemKey != "" {
		if err := orders.SaveIdempotencyKey(ctx, idemKey, order.ID); errors.Is(err, postgres.ErrIdempotencyRace) {
			if existing, qerr := orders.OrderIDByIdempotencyKey(ctx, idemKey); qerr == nil && existing != "" {
				return replayOrder(ctx, orders, existing, w)
			}
		}
	}

	return writeJSON(w, http.StatusCreated, toOrderResponse(order, ""))
}

func handleGetOrder(orders *postgres.OrderRepository, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		return writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	if id == "" || strings.Contains(id, "/") {
		return writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
	}

	order, err := orders.FindByID(r.Context(), domain.OrderID(id))
	if err != nil {
		return writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	if order == nil {
		return writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
	}
	return writeJSON(w, http.StatusOK, toOrderResponse(order, ""))
}

func replayOrder(ctx context.Context, orders *postgres.OrderRepository, id domain.OrderID, w http.ResponseWriter) int {
	order, err := orders.FindByID(ctx, id)
	if err != nil || order == nil {
		return writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "idempotent replay failed"})
	}
	return writeJSON(w, http.StatusOK, toOrderResponse(order, "IDEMPOTENT_REPLAY"))
}

func domainStatus(kind domain.ErrorKind) int {
	if kind == domain.ErrInsufficientStock {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func toOrderResponse(order *domain.Order, status string) OrderResponse {
	resp := OrderResponse{
		ID:         string(order.ID),
		CustomerID: string(order.CustomerID),
		CreatedAt:  order.CreatedAt,
		Status:     status,
	}
	for _, op := range order.Products {
		resp.Products = append(resp.Products, OrderProductResponse{
			ID:        op.ID,
			OrderID:   string(op.OrderID),
			ProductID: string(op.ProductID),
			Quantity:  op.Quantity,
			Price:     op.Price,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	return code
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
