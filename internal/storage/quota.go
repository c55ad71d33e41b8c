package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// currentPeriod returns the monthly accounting period, e.g. "2026-08".
func currentPeriod(now time.Time) string {
	return now.Format("2006-01")
}

// CheckAIQuota reports whether the merchant has AI calls remaining this
// month. Errors never block the pipeline: callers treat a non-nil error
// as allowed and log it, so a broken usage table degrades to unmetered
// service rather than a dead bot.
func (db *DB) CheckAIQuota(ctx context.Context, merchantID string) (*QuotaResult, error) {
	var limit int
	err := db.conn.QueryRowContext(ctx,
		`SELECT ai_quota_monthly FROM merchants WHERE id = ?`, merchantID).Scan(&limit)
	if err != nil {
		return nil, fmt.Errorf("query merchant quota: %w", err)
	}

	var used int
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_usage WHERE merchant_id = ? AND period = ?`,
		merchantID, currentPeriod(time.Now())).Scan(&used)
	if err != nil {
		return nil, fmt.Errorf("count ai usage: %w", err)
	}

	return &QuotaResult{
		Allowed: limit <= 0 || used < limit,
		Used:    used,
		Limit:   limit,
	}, nil
}

// RecordAIUsage logs one AI extraction call for quota accounting.
// Failures are logged and swallowed; usage tracking must never break
// the message pipeline.
func (db *DB) RecordAIUsage(ctx context.Context, merchantID, conversationID, provider, model string, totalTokens int) {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO ai_usage (merchant_id, conversation_id, provider, model, total_tokens, period, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		merchantID, conversationID, provider, model, totalTokens,
		currentPeriod(time.Now()), time.Now().Unix())
	if err != nil {
		slog.WarnContext(ctx, "failed to record ai usage",
			"merchant_id", merchantID,
			"provider", provider,
			"error", err)
	}
}
