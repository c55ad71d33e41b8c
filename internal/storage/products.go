package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ListActiveProducts returns the merchant's active catalog entries,
// ordered by name so catalog text is stable across calls.
func (db *DB) ListActiveProducts(ctx context.Context, merchantID string) ([]Product, error) {
	query := `
		SELECT id, merchant_id, name, price, description, is_active, created_at
		FROM products
		WHERE merchant_id = ? AND is_active = 1
		ORDER BY name
	`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, merchantID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to query products",
			"merchant_id", merchantID,
			"error", err)
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []Product
	for rows.Next() {
		var p Product
		var active int
		var desc *string
		if err := rows.Scan(&p.ID, &p.MerchantID, &p.Name, &p.Price, &desc, &active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.IsActive = active != 0
		if desc != nil {
			p.Description = *desc
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database query",
			"operation", "ListActiveProducts",
			"duration_ms", duration.Milliseconds(),
			"merchant_id", merchantID,
			"count", len(products))
	}

	return products, nil
}

// SaveProduct inserts or updates a product record.
func (db *DB) SaveProduct(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (id, merchant_id, name, price, description, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			description = excluded.description,
			is_active = excluded.is_active
	`
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	_, err := db.conn.ExecContext(ctx, query,
		p.ID, p.MerchantID, p.Name, p.Price, p.Description, boolInt(p.IsActive), createdAt)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save product",
			"product_id", p.ID,
			"error", err)
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}
