// Package main provides the order-taking bot server entry point.
package main

import (
	"context"
	"time"

	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/storage"
)

const (
	staleSweepInterval   = 1 * time.Hour
	slotCleanupInterval  = 10 * time.Minute
	gaugeUpdateInterval  = 5 * time.Minute
	initialJobStartDelay = 30 * time.Second
)

// sweepStaleConversations periodically abandons collecting_info
// conversations that have been idle longer than the TTL. Without the
// sweep an end-user who walked away mid-order would find the stale
// partial draft blocking their next order for good.
func sweepStaleConversations(ctx context.Context, db *storage.DB, m *metrics.Metrics, ttl time.Duration, log *logger.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJobStartDelay):
	}

	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()

	for {
		swept, err := db.AbandonStaleConversations(ctx, ttl)
		if err != nil {
			log.WithError(err).Error("Failed to sweep stale conversations")
		} else if swept > 0 {
			for range swept {
				m.RecordConversationTransition(storage.StatusAbandoned)
			}
			log.WithField("swept", swept).Info("Stale conversations abandoned")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cleanupReplySlots removes expired reply-slot rows.
func cleanupReplySlots(ctx context.Context, db *storage.DB, log *logger.Logger) {
	ticker := time.NewTicker(slotCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		deleted, err := db.CleanupExpiredReplySlots(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to clean up reply slots")
		} else if deleted > 0 {
			log.WithField("deleted", deleted).Debug("Expired reply slots removed")
		}
	}
}

// updateConversationGauge refreshes the active-conversation gauge.
func updateConversationGauge(ctx context.Context, db *storage.DB, m *metrics.Metrics, log *logger.Logger) {
	ticker := time.NewTicker(gaugeUpdateInterval)
	defer ticker.Stop()

	for {
		count, err := db.CountActiveConversations(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to count active conversations")
		} else {
			m.SetActiveConversations(count)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
