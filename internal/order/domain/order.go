package domain

import "time"

type CustomerID string
type ProductID string
type OrderID string

type Customer struct {
	ID    CustomerID
	Name  string
	Email string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID       ProductID
	Name     string
	Price    int64 // в минимальных единицах (копейки/центы)
	Quantity int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderProduct is one line of a persisted order. Price is the product price
// captured at order-creation time, not a live reference.
type OrderProduct struct {
	ID        string
	OrderID   OrderID
	ProductID ProductID
	Quantity  int32
	Price     int64
}

type Order struct {
	ID         OrderID
	CustomerID CustomerID
	Products   []OrderProduct

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderLine is a caller-supplied {product, requested quantity} pair.
type OrderLine struct {
	ProductID ProductID
	Quantity  int32
}

// StockUpdate is one {product, new absolute quantity} pair for a batch
// stock overwrite.
type StockUpdate struct {
	ProductID ProductID
	Quantity  int32
}
