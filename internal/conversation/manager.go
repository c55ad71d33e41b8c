// Package conversation manages the lifecycle of slot-filling dialogues:
// atomic get-or-create of the active conversation, merge persistence,
// display-name backfill, abandonment and capped history.
package conversation

import (
	"context"
	"fmt"

	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// Manager coordinates conversation state against the store.
type Manager struct {
	db           *storage.DB
	logger       *logger.Logger
	metrics      *metrics.Metrics
	historyLimit int
}

// NewManager creates a conversation manager. historyLimit caps how many
// past messages are handed to the extractor.
func NewManager(db *storage.DB, log *logger.Logger, m *metrics.Metrics, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Manager{db: db, logger: log, metrics: m, historyLimit: historyLimit}
}

// Ensure returns the active conversation for the (merchant, user) pair,
// creating one atomically if none exists.
func (m *Manager) Ensure(ctx context.Context, merchantID, lineUserID string) (*storage.Conversation, error) {
	c, err := m.db.GetOrCreateConversation(ctx, merchantID, lineUserID)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return c, nil
}

// Persist stores the merged collected data and the recomputed missing
// fields on the conversation.
func (m *Manager) Persist(ctx context.Context, conversationID string, merged order.Draft, missingFields []string) error {
	return m.db.UpdateConversationData(ctx, conversationID, merged, missingFields)
}

// BackfillDisplayName patches the LINE display name into collected data
// when it changed, without disturbing any other field. Failures are
// logged and swallowed: a missing display name never blocks ordering.
func (m *Manager) BackfillDisplayName(ctx context.Context, c *storage.Conversation, displayName string) {
	if displayName == "" || c.CollectedData.LineDisplayName == displayName {
		return
	}
	c.CollectedData.LineDisplayName = displayName
	if err := m.db.UpdateConversationData(ctx, c.ID, c.CollectedData, c.MissingFields); err != nil {
		m.logger.WithConversation(c.ID).WithError(err).Warn("failed to backfill display name")
	}
}

// Abandon marks the conversation abandoned so the next message starts a
// fresh one.
func (m *Manager) Abandon(ctx context.Context, conversationID string) error {
	if err := m.db.AbandonConversation(ctx, conversationID); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordConversationTransition(storage.StatusAbandoned)
	}
	return nil
}

// History returns the capped recent messages of the conversation,
// newest first.
func (m *Manager) History(ctx context.Context, conversationID string) ([]storage.Message, error) {
	return m.db.GetConversationHistory(ctx, conversationID, m.historyLimit)
}

// SaveUserMessage records an inbound message against the conversation.
func (m *Manager) SaveUserMessage(ctx context.Context, c *storage.Conversation, lineMessageID, content string) error {
	return m.db.SaveMessage(ctx, &storage.Message{
		ConversationID: c.ID,
		MerchantID:     c.MerchantID,
		LineUserID:     c.LineUserID,
		LineMessageID:  lineMessageID,
		Role:           storage.RoleUser,
		Content:        content,
	})
}

// SaveAssistantMessage records an outbound bot reply.
func (m *Manager) SaveAssistantMessage(ctx context.Context, c *storage.Conversation, content string) error {
	return m.db.SaveMessage(ctx, &storage.Message{
		ConversationID: c.ID,
		MerchantID:     c.MerchantID,
		LineUserID:     c.LineUserID,
		Role:           storage.RoleAssistant,
		Content:        content,
	})
}
