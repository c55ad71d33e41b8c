package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/talkorder/talkorder-go/internal/order"
)

// CreateOrderFromAI materializes an order from a completed conversation.
// It is idempotent per conversation: the UNIQUE(conversation_id)
// constraint plus ON CONFLICT DO NOTHING mean a racing duplicate call
// returns the already-created order id instead of inserting a second
// row. Returns the order id and whether this call created it.
func (db *DB) CreateOrderFromAI(ctx context.Context, o *Order) (string, bool, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return "", false, fmt.Errorf("encode items: %w", err)
	}

	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	orderNo := o.OrderNo
	if orderNo == "" {
		orderNo = generateOrderNo()
	}
	createdAt := o.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	insert := `
		INSERT INTO orders (id, order_no, merchant_id, conversation_id, customer_name, customer_phone,
			items, delivery_method, pickup_type, pickup_location, store_info, shipping_address,
			delivery_date, delivery_time, total_amount, notes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO NOTHING
	`

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, insert,
		id, orderNo, o.MerchantID, o.ConversationID, o.CustomerName, o.CustomerPhone,
		string(itemsJSON), o.DeliveryMethod, o.PickupType, o.PickupLocation, o.StoreInfo, o.ShippingAddress,
		o.DeliveryDate, o.DeliveryTime, o.TotalAmount, o.Notes, o.Status, createdAt,
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create order",
			"conversation_id", o.ConversationID,
			"error", err)
		return "", false, fmt.Errorf("create order: %w", err)
	}

	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		// A previous invocation won the race; return its order id.
		var existingID string
		err := db.conn.QueryRowContext(ctx,
			`SELECT id FROM orders WHERE conversation_id = ?`, o.ConversationID).Scan(&existingID)
		if err != nil {
			return "", false, fmt.Errorf("lookup existing order: %w", err)
		}
		slog.InfoContext(ctx, "order already exists for conversation",
			"conversation_id", o.ConversationID,
			"order_id", existingID)
		return existingID, false, nil
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database operation",
			"operation", "CreateOrderFromAI",
			"duration_ms", duration.Milliseconds(),
			"order_id", id)
	}

	return id, true, nil
}

// GetOrder retrieves an order by id.
func (db *DB) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `
		SELECT id, order_no, merchant_id, conversation_id, customer_name, customer_phone,
			items, COALESCE(delivery_method, ''), COALESCE(pickup_type, ''), COALESCE(pickup_location, ''),
			COALESCE(store_info, ''), COALESCE(shipping_address, ''), COALESCE(delivery_date, ''),
			COALESCE(delivery_time, ''), total_amount, COALESCE(notes, ''), status, created_at
		FROM orders WHERE id = ?
	`
	var o Order
	var itemsJSON string
	var total sql.NullFloat64
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.OrderNo, &o.MerchantID, &o.ConversationID, &o.CustomerName, &o.CustomerPhone,
		&itemsJSON, &o.DeliveryMethod, &o.PickupType, &o.PickupLocation,
		&o.StoreInfo, &o.ShippingAddress, &o.DeliveryDate,
		&o.DeliveryTime, &total, &o.Notes, &o.Status, &o.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if total.Valid {
		o.TotalAmount = &total.Float64
	}
	if itemsJSON != "" {
		var items []order.Item
		if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
		o.Items = items
	}
	return &o, nil
}

// CountOrdersForConversation counts orders linked to a conversation.
// Always 0 or 1 given the unique constraint; exposed for tests and the
// readiness probe.
func (db *DB) CountOrdersForConversation(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// CountOrders counts all orders.
func (db *DB) CountOrders(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// generateOrderNo builds a human-readable order number: date prefix plus
// a short random suffix.
func generateOrderNo() string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), suffix)
}
