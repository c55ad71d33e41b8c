package extract

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"

	"github.com/talkorder/talkorder-go/internal/catalog"
	"github.com/talkorder/talkorder-go/internal/order"
)

// Normalizer rewrites an extraction result into something the pipeline
// can trust. The LLM proposes; the normalizer disposes: delivery policy,
// prices, missing fields, completeness and stage are all recomputed here
// and the LLM's opinion on them is discarded.
type Normalizer struct {
	Policy  order.DeliveryPolicy
	Profile Profile
	Catalog *catalog.Index
}

// Apply normalizes res in place against the conversation's current
// collected data and returns the merged draft to persist.
func (n *Normalizer) Apply(res *Result, current order.Draft) order.Draft {
	n.Profile.Sanitize(&res.Order)
	n.sanitizeItems(&res.Order)
	res.Order.CustomerPhone = NormalizePhone(res.Order.CustomerPhone)

	violation := n.enforcePolicy(&res.Order)

	merged := order.Merge(current, res.Order)

	res.MissingFields = order.ComputeMissingFields(merged)

	// Items presence is the single source of truth for order intent.
	if merged.HasItems() {
		res.Intent = order.IntentOrder
	}

	res.IsComplete = order.IsComplete(merged) && !violation
	res.Stage = order.InferStage(res.IsComplete, merged.HasItems(), res.MissingFields)

	if violation {
		res.SuggestedReply = n.policyReply()
	}
	return merged
}

// sanitizeItems applies the item invariants: quantity defaults to 1 and
// prices come only from the catalog. Whatever price the model proposed
// is dropped before the catalog backfill.
func (n *Normalizer) sanitizeItems(d *order.Draft) {
	items := d.Items[:0]
	for _, item := range d.Items {
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			continue
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		item.Price = nil
		items = append(items, item)
	}
	d.Items = items
	if n.Catalog != nil {
		d.Items = n.Catalog.BackfillPrices(d.Items)
	}
}

// enforcePolicy strips any delivery method the merchant does not offer,
// together with every field that only makes sense under that method.
// Returns true when something was stripped.
func (n *Normalizer) enforcePolicy(d *order.Draft) bool {
	if d.DeliveryMethod == "" {
		return false
	}
	if !n.Policy.Allows(d.DeliveryMethod) {
		d.DeliveryMethod = ""
		d.PickupType = ""
		d.PickupLocation = ""
		d.StoreInfo = ""
		d.ShippingAddress = ""
		d.DeliveryTime = ""
		return true
	}
	if d.DeliveryMethod == order.MethodPickup && d.PickupType != "" && !n.Policy.AllowsPickupType(d.PickupType) {
		d.PickupType = ""
		d.PickupLocation = ""
		return true
	}
	return false
}

func (n *Normalizer) policyReply() string {
	methods := n.Policy.AllowedMethodsText()
	if methods == "" {
		return "不好意思,這個取貨方式我們目前沒有提供喔,請稍候由店家與您確認取貨方式!"
	}
	return fmt.Sprintf("不好意思,這個取貨方式我們目前沒有提供喔!我們提供的方式有:%s,請問您方便哪一種呢?", methods)
}

// NormalizePhone converts full-width digits to ASCII and keeps only
// digits plus a leading +. Customers on LINE often type numbers in
// full-width or with spaces and dashes.
func NormalizePhone(phone string) string {
	if phone == "" {
		return ""
	}
	narrowed := width.Narrow.String(phone)

	var b strings.Builder
	for _, r := range narrowed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
