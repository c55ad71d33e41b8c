package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	domerrors "github.com/talkorder/talkorder-go/internal/errors"
	"github.com/talkorder/talkorder-go/internal/order"
)

const conversationColumns = `id, merchant_id, line_user_id, status, collected_data, missing_fields, order_id,
	created_at, last_message_at, updated_at`

func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var c Conversation
	var collected, missing string
	var orderID sql.NullString
	err := scan(
		&c.ID, &c.MerchantID, &c.LineUserID, &c.Status, &collected, &missing, &orderID,
		&c.CreatedAt, &c.LastMessageAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		c.OrderID = orderID.String
	}

	draft, err := order.UnmarshalCollected([]byte(collected))
	if err != nil {
		return nil, fmt.Errorf("decode collected_data: %w", err)
	}
	c.CollectedData = draft

	if missing != "" {
		if err := json.Unmarshal([]byte(missing), &c.MissingFields); err != nil {
			return nil, fmt.Errorf("decode missing_fields: %w", err)
		}
	}
	return &c, nil
}

// GetOrCreateConversation returns the active collecting_info conversation
// for the (merchant, user) pair, creating one if none exists. The insert
// targets the partial unique index so two racing webhook deliveries
// cannot both create a conversation; the loser of the race reads the
// winner's row.
func (db *DB) GetOrCreateConversation(ctx context.Context, merchantID, lineUserID string) (*Conversation, error) {
	now := time.Now().Unix()
	insert := `
		INSERT INTO conversations (id, merchant_id, line_user_id, status, created_at, last_message_at, updated_at)
		VALUES (?, ?, ?, 'collecting_info', ?, ?, ?)
		ON CONFLICT(merchant_id, line_user_id) WHERE status = 'collecting_info' DO NOTHING
	`

	start := time.Now()
	if _, err := db.conn.ExecContext(ctx, insert, uuid.NewString(), merchantID, lineUserID, now, now, now); err != nil {
		slog.ErrorContext(ctx, "failed to create conversation",
			"merchant_id", merchantID,
			"line_user_id", lineUserID,
			"error", err)
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE merchant_id = ? AND line_user_id = ? AND status = 'collecting_info'
	`
	row := db.conn.QueryRowContext(ctx, query, merchantID, lineUserID)
	c, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domerrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active conversation: %w", err)
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database operation",
			"operation", "GetOrCreateConversation",
			"duration_ms", duration.Milliseconds(),
			"conversation_id", c.ID)
	}

	return c, nil
}

// GetConversation retrieves a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	row := db.conn.QueryRowContext(ctx, query, id)
	c, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domerrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

// UpdateConversationData persists merged collected data and the
// system-computed missing fields, and bumps the message timestamps.
func (db *DB) UpdateConversationData(ctx context.Context, id string, collected order.Draft, missingFields []string) error {
	collectedJSON, err := collected.MarshalCollected()
	if err != nil {
		return fmt.Errorf("encode collected_data: %w", err)
	}
	if missingFields == nil {
		missingFields = []string{}
	}
	missingJSON, err := json.Marshal(missingFields)
	if err != nil {
		return fmt.Errorf("encode missing_fields: %w", err)
	}

	now := time.Now().Unix()
	query := `
		UPDATE conversations
		SET collected_data = ?, missing_fields = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := db.conn.ExecContext(ctx, query, string(collectedJSON), string(missingJSON), now, now, id)
	if err != nil {
		slog.ErrorContext(ctx, "failed to update conversation data",
			"conversation_id", id,
			"error", err)
		return fmt.Errorf("update conversation data: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domerrors.ErrConversationNotFound
	}
	return nil
}

// AbandonConversation marks a conversation abandoned so a fresh one can
// start. Completed conversations are left untouched.
func (db *DB) AbandonConversation(ctx context.Context, id string) error {
	query := `
		UPDATE conversations
		SET status = 'abandoned', updated_at = ?
		WHERE id = ? AND status = 'collecting_info'
	`
	if _, err := db.conn.ExecContext(ctx, query, time.Now().Unix(), id); err != nil {
		slog.ErrorContext(ctx, "failed to abandon conversation",
			"conversation_id", id,
			"error", err)
		return fmt.Errorf("abandon conversation: %w", err)
	}
	return nil
}

// CompleteConversation marks the conversation completed and links the
// order id. It is idempotent: an already-completed conversation keeps
// its original order id. This doubles as the defensive re-update after
// materialization.
func (db *DB) CompleteConversation(ctx context.Context, id, orderID string) error {
	query := `
		UPDATE conversations
		SET status = 'completed', order_id = COALESCE(order_id, ?), updated_at = ?
		WHERE id = ?
	`
	res, err := db.conn.ExecContext(ctx, query, orderID, time.Now().Unix(), id)
	if err != nil {
		slog.ErrorContext(ctx, "failed to complete conversation",
			"conversation_id", id,
			"order_id", orderID,
			"error", err)
		return fmt.Errorf("complete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domerrors.ErrConversationNotFound
	}
	return nil
}

// AbandonStaleConversations abandons collecting_info conversations whose
// last message is older than the cutoff. Returns the number abandoned.
func (db *DB) AbandonStaleConversations(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	query := `
		UPDATE conversations
		SET status = 'abandoned', updated_at = ?
		WHERE status = 'collecting_info' AND last_message_at < ?
	`
	res, err := db.conn.ExecContext(ctx, query, time.Now().Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("abandon stale conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountActiveConversations counts collecting_info conversations.
func (db *DB) CountActiveConversations(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE status = 'collecting_info'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active conversations: %w", err)
	}
	return count, nil
}
