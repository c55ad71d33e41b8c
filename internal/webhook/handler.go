// Package webhook receives LINE webhook deliveries, resolves the
// destination bot to a merchant, verifies the signature with that
// merchant's channel secret and drives the per-message order pipeline.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// maxBodyBytes caps webhook bodies well above LINE's own batch limit.
const maxBodyBytes = 1 << 20

// maxEventsPerWebhook bounds one delivery batch.
const maxEventsPerWebhook = 100

// Handler is the Gin handler for the multi-tenant webhook endpoint.
type Handler struct {
	db           *storage.DB
	pipeline     *Pipeline
	metrics      *metrics.Metrics
	logger       *logger.Logger
	eventTimeout time.Duration
	wg           sync.WaitGroup
}

// HandlerConfig holds configuration for creating a new Handler.
type HandlerConfig struct {
	DB           *storage.DB
	Pipeline     *Pipeline
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
	EventTimeout time.Duration
}

// NewHandler creates a webhook handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		db:           cfg.DB,
		pipeline:     cfg.Pipeline,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		eventTimeout: cfg.EventTimeout,
	}
}

// Handle processes one webhook delivery. LINE retries non-200
// responses, so every outcome answers 200: transport and auth failures
// are logged and dropped, duplicate deliveries are absorbed by the
// reply-slot reservation rather than by status codes.
func (h *Handler) Handle(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		h.respondOK(c, "unreadable body")
		return
	}

	var envelope struct {
		Destination string `json:"destination"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Destination == "" {
		h.logger.Warn("Webhook body has no destination")
		h.metrics.RecordWebhook("batch", "no_destination", time.Since(start).Seconds())
		h.respondOK(c, "ignored")
		return
	}

	merchant, err := h.db.GetMerchantByDestination(c.Request.Context(), envelope.Destination)
	if err != nil {
		h.logger.WithField("destination", envelope.Destination).
			WithError(err).Warn("Unknown webhook destination")
		h.metrics.RecordWebhook("batch", "unknown_merchant", time.Since(start).Seconds())
		h.respondOK(c, "ignored")
		return
	}

	signature := c.GetHeader("x-line-signature")
	if !validSignature(merchant.ChannelSecret, signature, body) {
		h.logger.WithMerchant(merchant.ID).Error("Invalid webhook signature")
		h.metrics.RecordWebhook("batch", "invalid_signature", time.Since(start).Seconds())
		h.respondOK(c, "ignored")
		return
	}

	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		h.logger.WithMerchant(merchant.ID).WithError(err).Error("Failed to parse webhook events")
		h.metrics.RecordWebhook("batch", "parse_error", time.Since(start).Seconds())
		h.respondOK(c, "ignored")
		return
	}

	h.respondOK(c, "ok")
	h.metrics.RecordWebhook("batch", "received", 0)

	if len(cb.Events) > maxEventsPerWebhook {
		h.logger.WithMerchant(merchant.ID).
			WithField("event_count", len(cb.Events)).
			Warn("Too many events in webhook batch; truncating")
		cb.Events = cb.Events[:maxEventsPerWebhook]
	}

	events := make([]webhook.EventInterface, len(cb.Events))
	copy(events, cb.Events)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.WithField("panic", r).Error("Panic in async event processing")
			}
		}()

		for _, event := range events {
			h.processEvent(merchant, event)
		}
	}()
}

func (h *Handler) respondOK(c *gin.Context, status string) {
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// validSignature checks the x-line-signature header: base64-encoded
// HMAC-SHA256 of the raw body keyed by the merchant's channel secret.
// The merchant is only known after reading the body, so verification
// cannot be delegated to the SDK's request parser.
func validSignature(channelSecret, signature string, body []byte) bool {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// processEvent handles a single webhook event with its own timeout,
// detached from the already-answered HTTP request.
func (h *Handler) processEvent(merchant *storage.Merchant, event webhook.EventInterface) {
	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()

	eventStart := time.Now()
	log := h.logger.WithMerchant(merchant.ID)

	var eventType string
	var err error

	switch e := event.(type) {
	case webhook.MessageEvent:
		eventType = "message"
		if e.WebhookEventId != "" {
			log = log.WithEventID(e.WebhookEventId)
		}
		if e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery {
			log = log.WithField("is_redelivery", true)
		}
		err = h.processMessageEvent(ctx, merchant, e, log)
	case webhook.FollowEvent:
		eventType = "follow"
		if src, ok := e.Source.(webhook.UserSource); ok {
			err = h.pipeline.HandleFollow(ctx, merchant, src.UserId)
		}
	case webhook.UnfollowEvent:
		eventType = "unfollow"
		log.Debug("User unfollowed")
	default:
		log.WithField("event_type", fmt.Sprintf("%T", e)).Debug("Unsupported event type")
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		log.WithError(err).WithField("event_type", eventType).Error("Failed to handle event")
	}
	h.metrics.RecordWebhook(eventType, status, time.Since(eventStart).Seconds())
}

func (h *Handler) processMessageEvent(ctx context.Context, merchant *storage.Merchant, e webhook.MessageEvent, log *logger.Logger) error {
	src, ok := e.Source.(webhook.UserSource)
	if !ok {
		log.Debug("Non-user message source, skipping")
		return nil
	}
	text, ok := e.Message.(webhook.TextMessageContent)
	if !ok {
		log.WithField("message_type", e.Message.GetType()).Debug("Non-text message, skipping")
		return nil
	}

	return h.pipeline.HandleText(ctx, merchant, Inbound{
		LineUserID:    src.UserId,
		LineMessageID: text.Id,
		ReplyToken:    e.ReplyToken,
		Text:          text.Text,
	})
}

// Shutdown waits for in-flight async event processing to finish.
func (h *Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
