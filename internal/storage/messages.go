package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SaveMessage stores an inbound or outbound chat message. Messages are
// kept even when the AI is never called (quota exhausted) so staff can
// review them later. Duplicate LINE message ids are tolerated; webhook
// redelivery dedup happens at the reply-slot layer, not here.
func (db *DB) SaveMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (conversation_id, merchant_id, line_user_id, line_message_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	_, err := db.conn.ExecContext(ctx, query,
		m.ConversationID, m.MerchantID, m.LineUserID, m.LineMessageID, m.Role, m.Content, createdAt)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save message",
			"conversation_id", m.ConversationID,
			"error", err)
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetConversationHistory returns the most recent messages of a
// conversation in reverse-chronological order, capped at limit.
func (db *DB) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, conversation_id, merchant_id, line_user_id, COALESCE(line_message_id, ''), role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to query conversation history",
			"conversation_id", conversationID,
			"error", err)
		return nil, fmt.Errorf("query conversation history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MerchantID, &m.LineUserID,
			&m.LineMessageID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database query",
			"operation", "GetConversationHistory",
			"duration_ms", duration.Milliseconds(),
			"conversation_id", conversationID)
	}

	return messages, nil
}
