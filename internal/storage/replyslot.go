package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReserveReplySlot attempts to reserve the right to reply for a
// conversation. The reservation is a single atomic upsert: it is
// granted when the conversation has no slot, the existing slot has
// expired, or the incoming intent hash differs from the reserved one.
// A repeat of the same intent hash inside the cooldown window is
// suppressed, which throttles duplicate webhook deliveries without
// blocking genuinely new user input.
func (db *DB) ReserveReplySlot(ctx context.Context, conversationID, intentHash string, cooldown time.Duration) (bool, error) {
	now := time.Now().Unix()
	expiresAt := now + int64(cooldown.Seconds())

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO reply_slots (conversation_id, intent_hash, reserved_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			intent_hash = excluded.intent_hash,
			reserved_at = excluded.reserved_at,
			expires_at = excluded.expires_at
		WHERE reply_slots.expires_at <= excluded.reserved_at
			OR reply_slots.intent_hash != excluded.intent_hash
	`, conversationID, intentHash, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("reserve reply slot: %w", err)
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database operation",
			"operation", "ReserveReplySlot",
			"duration_ms", duration.Milliseconds(),
			"conversation_id", conversationID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve reply slot result: %w", err)
	}
	return affected > 0, nil
}

// CleanupExpiredReplySlots removes reservations past their expiry.
// Run periodically; expired rows are also harmless since the upsert
// condition treats them as free.
func (db *DB) CleanupExpiredReplySlots(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM reply_slots WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup reply slots: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
