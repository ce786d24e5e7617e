package contracts

import "time"

type Event struct {
	EventID    string         `json:"event_id"`
	OrderID    string         `json:"order_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
}

const (
	EventOrderCreated        = "order.created"
	EventNotificationEmitted = "notification.emitted"
)

const TopicOrders = "orders.events"
