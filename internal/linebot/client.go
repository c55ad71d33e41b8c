// Package linebot manages per-merchant LINE Messaging API clients and
// the reply helpers the webhook pipeline uses.
package linebot

import (
	"context"
	"fmt"
	"sync"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"golang.org/x/sync/singleflight"

	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/storage"
)

type cachedClient struct {
	token  string
	client *messaging_api.MessagingApiAPI
}

// ClientCache hands out one messaging client per merchant. Construction
// goes through singleflight so concurrent webhooks for the same merchant
// build the client once. A rotated channel token invalidates the entry.
type ClientCache struct {
	mu      sync.RWMutex
	clients map[string]*cachedClient
	group   singleflight.Group
	logger  *logger.Logger
}

// NewClientCache creates an empty client cache.
func NewClientCache(log *logger.Logger) *ClientCache {
	return &ClientCache{
		clients: make(map[string]*cachedClient),
		logger:  log,
	}
}

// Get returns the messaging client for a merchant, building it on first
// use.
func (c *ClientCache) Get(ctx context.Context, merchant *storage.Merchant) (*messaging_api.MessagingApiAPI, error) {
	if merchant.ChannelToken == "" {
		return nil, fmt.Errorf("merchant %s has no channel token", merchant.ID)
	}

	c.mu.RLock()
	entry, ok := c.clients[merchant.ID]
	c.mu.RUnlock()
	if ok && entry.token == merchant.ChannelToken {
		return entry.client, nil
	}

	result, err, _ := c.group.Do(merchant.ID, func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Re-check under the write path: a concurrent caller may have
		// built the client while we waited on the group.
		c.mu.RLock()
		entry, ok := c.clients[merchant.ID]
		c.mu.RUnlock()
		if ok && entry.token == merchant.ChannelToken {
			return entry.client, nil
		}

		client, err := messaging_api.NewMessagingApiAPI(merchant.ChannelToken)
		if err != nil {
			return nil, fmt.Errorf("create messaging client: %w", err)
		}

		c.mu.Lock()
		c.clients[merchant.ID] = &cachedClient{token: merchant.ChannelToken, client: client}
		c.mu.Unlock()

		c.logger.WithMerchant(merchant.ID).Debug("messaging client created")
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*messaging_api.MessagingApiAPI), nil
}

// Forget drops a merchant's cached client, forcing a rebuild on next use.
func (c *ClientCache) Forget(merchantID string) {
	c.mu.Lock()
	delete(c.clients, merchantID)
	c.mu.Unlock()
	c.group.Forget(merchantID)
}

// Reply sends a single text message against a reply token.
func Reply(client *messaging_api.MessagingApiAPI, replyToken, text string) error {
	if replyToken == "" || text == "" {
		return nil
	}
	_, err := client.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	return nil
}

// DisplayName fetches the LINE profile display name for a user. Returns
// an empty string on failure; the caller treats the name as optional.
func DisplayName(client *messaging_api.MessagingApiAPI, userID string) string {
	if userID == "" {
		return ""
	}
	profile, err := client.GetProfile(userID)
	if err != nil || profile == nil {
		return ""
	}
	return profile.DisplayName
}
