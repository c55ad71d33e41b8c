// Package orders materializes completed conversations into order
// records. Creation is idempotent per conversation; the conversation is
// marked completed only after the order definitively exists.
package orders

import (
	"context"
	"fmt"
	"strings"

	domerrors "github.com/talkorder/talkorder-go/internal/errors"
	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// Materializer turns a complete draft into a stored order.
type Materializer struct {
	db      *storage.DB
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewMaterializer creates a materializer.
func NewMaterializer(db *storage.DB, log *logger.Logger, m *metrics.Metrics) *Materializer {
	return &Materializer{db: db, logger: log, metrics: m}
}

// CreateFromConversation materializes an order for a conversation whose
// draft passed the completeness check. A conversation that already
// carries an order id is a hard stop: re-materialization is refused
// even before the store-level unique constraint would catch it.
// Returns the order and whether this call created it.
func (m *Materializer) CreateFromConversation(ctx context.Context, merchant *storage.Merchant, conv *storage.Conversation, draft order.Draft) (*storage.Order, bool, error) {
	if conv.OrderID != "" {
		return nil, false, fmt.Errorf("conversation %s: %w", conv.ID, domerrors.ErrOrderExists)
	}

	status := storage.OrderStatusDraft
	if draft.DeliveryDate != "" {
		// An appointment date makes the order actionable immediately.
		status = storage.OrderStatusPending
	}

	o := &storage.Order{
		MerchantID:      merchant.ID,
		ConversationID:  conv.ID,
		CustomerName:    draft.CustomerName,
		CustomerPhone:   draft.CustomerPhone,
		Items:           draft.Items,
		DeliveryMethod:  string(draft.DeliveryMethod),
		PickupType:      string(draft.PickupType),
		PickupLocation:  draft.PickupLocation,
		StoreInfo:       draft.StoreInfo,
		ShippingAddress: draft.ShippingAddress,
		DeliveryDate:    draft.DeliveryDate,
		DeliveryTime:    draft.DeliveryTime,
		TotalAmount:     totalAmount(draft),
		Notes:           buildNotes(draft),
		Status:          status,
	}

	orderID, created, err := m.db.CreateOrderFromAI(ctx, o)
	if err != nil {
		return nil, false, fmt.Errorf("materialize order: %w", err)
	}
	o.ID = orderID

	// Completion only after creation definitively succeeded. The update
	// is idempotent and doubles as the defensive re-update in case a
	// racing invocation already completed the conversation.
	if err := m.db.CompleteConversation(ctx, conv.ID, orderID); err != nil {
		m.logger.WithConversation(conv.ID).WithError(err).Error("order created but completion failed")
		return nil, false, fmt.Errorf("complete conversation: %w", err)
	}

	if created {
		stored, err := m.db.GetOrder(ctx, orderID)
		if err == nil && stored != nil {
			o = stored
		}
		if m.metrics != nil {
			m.metrics.RecordOrderCreated(o.Status)
			m.metrics.RecordConversationTransition(storage.StatusCompleted)
		}
		m.logger.WithMerchant(merchant.ID).
			WithConversation(conv.ID).
			WithField("order_id", orderID).
			WithField("status", o.Status).
			Info("order materialized")
		return o, true, nil
	}

	stored, err := m.db.GetOrder(ctx, orderID)
	if err != nil || stored == nil {
		return o, false, nil
	}
	return stored, false, nil
}

// totalAmount prefers an explicitly collected total; otherwise it sums
// item prices when every item carries one. A partially priced order has
// no trustworthy total.
func totalAmount(draft order.Draft) *float64 {
	if draft.TotalAmount != nil {
		return draft.TotalAmount
	}
	if len(draft.Items) == 0 {
		return nil
	}
	var sum float64
	for _, item := range draft.Items {
		if item.Price == nil {
			return nil
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		sum += *item.Price * float64(qty)
	}
	return &sum
}

func buildNotes(draft order.Draft) string {
	var parts []string
	if draft.CustomerNotes != "" {
		parts = append(parts, draft.CustomerNotes)
	}
	if draft.ServiceNotes != "" {
		parts = append(parts, draft.ServiceNotes)
	}
	if draft.RequiresFrozen != nil && *draft.RequiresFrozen {
		parts = append(parts, "需冷凍配送")
	}
	return strings.Join(parts, "\n")
}

// ConfirmationMessage builds the end-user confirmation text.
func ConfirmationMessage(o *storage.Order) string {
	var b strings.Builder
	b.WriteString("訂單已成立!\n")
	fmt.Fprintf(&b, "訂單編號:%s\n", o.OrderNo)

	for _, item := range o.Items {
		fmt.Fprintf(&b, "・%s x%d", item.Name, item.Quantity)
		if item.Price != nil {
			fmt.Fprintf(&b, " NT$%.0f", *item.Price*float64(item.Quantity))
		}
		b.WriteString("\n")
	}

	if method := order.MethodLabel(order.DeliveryMethod(o.DeliveryMethod)); method != "" {
		fmt.Fprintf(&b, "取貨方式:%s\n", method)
	}
	if o.DeliveryDate != "" {
		b.WriteString("日期:" + o.DeliveryDate)
		if o.DeliveryTime != "" {
			b.WriteString(" " + o.DeliveryTime)
		}
		b.WriteString("\n")
	}
	if o.TotalAmount != nil {
		fmt.Fprintf(&b, "合計:NT$%.0f\n", *o.TotalAmount)
	}
	b.WriteString("感謝您的訂購!")
	return b.String()
}
