package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// InitSchema creates all necessary tables and indexes.
// Note: WAL mode is configured in db.go.
func InitSchema(db *sql.DB) error {
	if err := createMerchantsTable(db); err != nil {
		return err
	}
	if err := createProductsTable(db); err != nil {
		return err
	}
	if err := createConversationsTable(db); err != nil {
		return err
	}
	if err := createMessagesTable(db); err != nil {
		return err
	}
	if err := createOrdersTable(db); err != nil {
		return err
	}
	if err := createReplySlotsTable(db); err != nil {
		return err
	}
	return createAIUsageTable(db)
}

func createMerchantsTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS merchants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		business_type TEXT NOT NULL DEFAULT 'bakery',
		line_destination TEXT NOT NULL,
		channel_secret TEXT NOT NULL,
		channel_token TEXT NOT NULL,
		auto_mode INTEGER NOT NULL DEFAULT 1,
		enable_pickup_store INTEGER NOT NULL DEFAULT 0,
		enable_pickup_meetup INTEGER NOT NULL DEFAULT 0,
		enable_convenience_store INTEGER NOT NULL DEFAULT 0,
		enable_black_cat INTEGER NOT NULL DEFAULT 0,
		ai_quota_monthly INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merchants_destination ON merchants(line_destination);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create merchants table: %w", err)
	}
	return nil
}

func createProductsTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		name TEXT NOT NULL,
		price REAL NOT NULL,
		description TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_merchant ON products(merchant_id, is_active);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create products table: %w", err)
	}
	return nil
}

// createConversationsTable creates the conversations table.
// The partial unique index enforces at most one collecting_info
// conversation per (merchant, end user); get-or-create relies on it for
// atomicity instead of a read-then-write from the handler.
func createConversationsTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		line_user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'collecting_info'
			CHECK(status IN ('collecting_info', 'completed', 'abandoned')),
		collected_data TEXT NOT NULL DEFAULT '{}',
		missing_fields TEXT NOT NULL DEFAULT '[]',
		order_id TEXT,
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_active
		ON conversations(merchant_id, line_user_id) WHERE status = 'collecting_info';
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(merchant_id, line_user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status, last_message_at);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create conversations table: %w", err)
	}
	return nil
}

func createMessagesTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		merchant_id TEXT NOT NULL,
		line_user_id TEXT NOT NULL,
		line_message_id TEXT,
		role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

// createOrdersTable creates the orders table.
// UNIQUE(conversation_id) is the store-level guarantee behind the
// at-most-one-order-per-conversation invariant.
func createOrdersTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_no TEXT NOT NULL,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		conversation_id TEXT NOT NULL UNIQUE REFERENCES conversations(id),
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		items TEXT NOT NULL,
		delivery_method TEXT,
		pickup_type TEXT,
		pickup_location TEXT,
		store_info TEXT,
		shipping_address TEXT,
		delivery_date TEXT,
		delivery_time TEXT,
		total_amount REAL,
		notes TEXT,
		status TEXT NOT NULL CHECK(status IN ('pending', 'draft')),
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_merchant ON orders(merchant_id, created_at DESC);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create orders table: %w", err)
	}
	return nil
}

func createReplySlotsTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS reply_slots (
		conversation_id TEXT PRIMARY KEY,
		intent_hash TEXT NOT NULL,
		reserved_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reply_slots_expires ON reply_slots(expires_at);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create reply_slots table: %w", err)
	}
	return nil
}

func createAIUsageTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS ai_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		conversation_id TEXT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		period TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ai_usage_period ON ai_usage(merchant_id, period);
	`

	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create ai_usage table: %w", err)
	}
	return nil
}
