package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-orders-go/internal/order/domain"
)

type ProductRepository struct {
	pool *pgxpool.Pool
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindAllByID resolves the ids in one query; unknown ids are silently
// omitted from the result.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []domain.ProductID) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price, quantity, created_at, updated_at FROM products WHERE id = ANY($1)`,
		raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		var rawID string
		if err := rows.Scan(&rawID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = domain.ProductID(rawID)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateQuantity overwrites the stored quantity of each listed product in a
// single batch. The write is a blind overwrite, not a decrement.
func (r *ProductRepository) UpdateQuantity(ctx context.Context, updates []domain.StockUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE products SET quantity=$2, updated_at=now() WHERE id=$1`,
			string(u.ProductID), u.Quantity,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range updates {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}
