package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/talkorder/talkorder-go/internal/catalog"
	"github.com/talkorder/talkorder-go/internal/conversation"
	domerrors "github.com/talkorder/talkorder-go/internal/errors"
	"github.com/talkorder/talkorder-go/internal/extract"
	"github.com/talkorder/talkorder-go/internal/linebot"
	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/orders"
	"github.com/talkorder/talkorder-go/internal/sentry"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// genericAck closes out a conversation that drifted away from ordering.
const genericAck = "謝謝您的訊息！如需訂購，歡迎隨時告訴我們 😊"

// Pipeline drives one inbound text message end to end: quota gate,
// extraction, normalization, persistence, materialization and the
// cooldown-guarded reply.
type Pipeline struct {
	db            *storage.DB
	manager       *conversation.Manager
	materializer  *orders.Materializer
	chain         *extract.Chain
	clients       *linebot.ClientCache
	metrics       *metrics.Metrics
	logger        *logger.Logger
	replyCooldown time.Duration
}

// PipelineConfig holds the collaborators a Pipeline needs.
type PipelineConfig struct {
	DB            *storage.DB
	Manager       *conversation.Manager
	Materializer  *orders.Materializer
	Chain         *extract.Chain
	Clients       *linebot.ClientCache
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	ReplyCooldown time.Duration
}

// NewPipeline creates a message pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		db:            cfg.DB,
		manager:       cfg.Manager,
		materializer:  cfg.Materializer,
		chain:         cfg.Chain,
		clients:       cfg.Clients,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		replyCooldown: cfg.ReplyCooldown,
	}
}

// Inbound is one text message lifted out of the webhook event.
type Inbound struct {
	LineUserID    string
	LineMessageID string
	ReplyToken    string
	Text          string
}

// HandleText processes one inbound text message. The returned error is
// for logging only; the webhook response has already been sent.
func (p *Pipeline) HandleText(ctx context.Context, merchant *storage.Merchant, in Inbound) error {
	log := p.logger.WithMerchant(merchant.ID).WithField("line_user_id", in.LineUserID)

	conv, err := p.manager.Ensure(ctx, merchant.ID, in.LineUserID)
	if err != nil {
		return err
	}
	log = log.WithConversation(conv.ID)

	// History is captured before the current message is stored so the
	// extractor sees it once, as the message under extraction.
	history, err := p.manager.History(ctx, conv.ID)
	if err != nil {
		log.WithError(err).Warn("failed to load history")
		history = nil
	}

	// The raw message is stored unconditionally, quota or not, so staff
	// can review what the bot never answered.
	if err := p.manager.SaveUserMessage(ctx, conv, in.LineMessageID, in.Text); err != nil {
		log.WithError(err).Warn("failed to store inbound message")
	}

	if !p.quotaAllows(ctx, merchant, log) {
		return nil
	}

	idx := catalog.NewIndex(p.logger)
	products, err := p.db.ListActiveProducts(ctx, merchant.ID)
	if err != nil {
		log.WithError(err).Warn("failed to load catalog")
	} else if err := idx.Initialize(products); err != nil {
		log.WithError(err).Warn("failed to index catalog")
	}

	profile := extract.ProfileFor(merchant)
	req := &extract.Request{
		Message:      in.Text,
		MerchantName: merchant.Name,
		Collected:    conv.CollectedData,
		StageHint:    order.DeriveStageHint(conv.CollectedData),
		History:      history,
		CatalogText:  idx.Text(),
		PolicyText:   merchant.Policy.AllowedMethodsText(),
		Profile:      profile,
	}

	res, err := p.chain.Extract(ctx, req)
	if err != nil {
		// Extraction failure leaves collected data untouched and sends
		// nothing; a partial merge is worse than a missed turn.
		log.WithError(err).Error("extraction failed")
		sentry.CaptureExceptionWithContext(ctx, err)
		return err
	}
	p.db.RecordAIUsage(ctx, merchant.ID, conv.ID, res.Provider, res.Model, res.TotalTokens)

	client, clientErr := p.clients.Get(ctx, merchant)
	if clientErr != nil {
		log.WithError(clientErr).Warn("messaging client unavailable")
	} else if conv.CollectedData.LineDisplayName == "" {
		p.manager.BackfillDisplayName(ctx, conv, linebot.DisplayName(client, in.LineUserID))
	}

	normalizer := &extract.Normalizer{Policy: merchant.Policy, Profile: profile, Catalog: idx}
	merged := normalizer.Apply(res, conv.CollectedData)

	reply := res.SuggestedReply

	switch {
	case res.Intent == order.IntentOther && !res.IsContinuation:
		// Off-topic chatter abandons the conversation so a stale
		// partial order never blocks a fresh one.
		if err := p.manager.Abandon(ctx, conv.ID); err != nil {
			log.WithError(err).Warn("failed to abandon conversation")
		}
		reply = genericAck

	case res.Intent == order.IntentOrder && res.IsComplete:
		if err := p.manager.Persist(ctx, conv.ID, merged, res.MissingFields); err != nil {
			log.WithError(err).Error("failed to persist collected data")
			return err
		}
		o, _, err := p.materializer.CreateFromConversation(ctx, merchant, conv, merged)
		if err != nil {
			if errors.Is(err, domerrors.ErrOrderExists) {
				log.Warn("conversation already has an order; reply skipped")
				return nil
			}
			log.WithError(err).Error("order materialization failed")
			sentry.CaptureExceptionWithContext(ctx, err)
			return err
		}
		reply = orders.ConfirmationMessage(o)

	default:
		if err := p.manager.Persist(ctx, conv.ID, merged, res.MissingFields); err != nil {
			log.WithError(err).Error("failed to persist collected data")
			return err
		}
	}

	// Semi-automatic merchants get silent processing: orders are still
	// created, confirmations are left to staff.
	if !merchant.AutoMode || reply == "" || in.ReplyToken == "" {
		return nil
	}

	if !p.reserveSlot(ctx, conv.ID, res, merged, log) {
		return nil
	}

	if clientErr != nil {
		return clientErr
	}
	return p.sendReply(ctx, client, conv, in.ReplyToken, reply, log)
}

// HandleFollow records a follow event for later review. No reply is
// sent; the greeting flow lives in the LINE official account settings.
func (p *Pipeline) HandleFollow(ctx context.Context, merchant *storage.Merchant, lineUserID string) error {
	conv, err := p.manager.Ensure(ctx, merchant.ID, lineUserID)
	if err != nil {
		return err
	}
	return p.manager.SaveUserMessage(ctx, conv, "", "[加入好友]")
}

// quotaAllows applies the monthly AI quota. A check failure allows the
// message through: availability over strict metering.
func (p *Pipeline) quotaAllows(ctx context.Context, merchant *storage.Merchant, log *logger.Logger) bool {
	quota, err := p.db.CheckAIQuota(ctx, merchant.ID)
	if err != nil {
		log.WithError(err).Warn("quota check failed; allowing")
		p.metrics.RecordQuotaDecision("error_fail_open")
		return true
	}
	if !quota.Allowed {
		log.WithField("used", quota.Used).WithField("limit", quota.Limit).
			Warn("AI quota exhausted; message stored without reply")
		p.metrics.RecordQuotaDecision("denied")
		return false
	}
	p.metrics.RecordQuotaDecision("allowed")
	return true
}

// reserveSlot claims the cooldown-guarded reply slot. Reservation
// errors fail open; a genuine duplicate fails closed.
func (p *Pipeline) reserveSlot(ctx context.Context, conversationID string, res *extract.Result, merged order.Draft, log *logger.Logger) bool {
	hash := Fingerprint(res.Intent, res.Stage, res.MissingFields, merged)
	granted, err := p.db.ReserveReplySlot(ctx, conversationID, hash, p.replyCooldown)
	if err != nil {
		log.WithError(err).Warn("reply-slot reservation failed; sending anyway")
		p.metrics.RecordReplySlot("error_fail_open")
		return true
	}
	if !granted {
		log.WithField("intent_hash", hash[:8]).Info("duplicate reply suppressed")
		p.metrics.RecordReplySlot("suppressed")
		return false
	}
	p.metrics.RecordReplySlot("granted")
	return true
}

func (p *Pipeline) sendReply(ctx context.Context, client *messaging_api.MessagingApiAPI, conv *storage.Conversation, replyToken, text string, log *logger.Logger) error {
	if err := linebot.Reply(client, replyToken, text); err != nil {
		log.WithError(err).Error("failed to send reply")
		return err
	}
	if err := p.manager.SaveAssistantMessage(ctx, conv, text); err != nil {
		log.WithError(err).Warn("failed to store outbound message")
	}
	return nil
}
