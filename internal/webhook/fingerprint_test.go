package webhook

import (
	"testing"

	"github.com/talkorder/talkorder-go/internal/order"
)

func TestFingerprint_StableAcrossFieldOrder(t *testing.T) {
	t.Parallel()

	draft := order.Draft{CustomerName: "王小明", Items: []order.Item{{Name: "檸檬塔", Quantity: 2}}}
	a := Fingerprint(order.IntentOrder, order.StageDelivery, []string{"delivery_method", "customer_phone"}, draft)
	b := Fingerprint(order.IntentOrder, order.StageDelivery, []string{"customer_phone", "delivery_method"}, draft)
	if a != b {
		t.Error("Fingerprint must not depend on missing-field order")
	}
}

func TestFingerprint_DistinguishesDecisions(t *testing.T) {
	t.Parallel()

	draft := order.Draft{CustomerName: "王小明"}
	base := Fingerprint(order.IntentOrder, order.StageContact, []string{"customer_phone"}, draft)

	if got := Fingerprint(order.IntentOther, order.StageContact, []string{"customer_phone"}, draft); got == base {
		t.Error("Different intents must fingerprint differently")
	}
	if got := Fingerprint(order.IntentOrder, order.StageDone, []string{"customer_phone"}, draft); got == base {
		t.Error("Different stages must fingerprint differently")
	}
	changed := draft
	changed.CustomerPhone = "0912345678"
	if got := Fingerprint(order.IntentOrder, order.StageContact, []string{"customer_phone"}, changed); got == base {
		t.Error("Different drafts must fingerprint differently")
	}
}

func TestFingerprint_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	missing := []string{"delivery_method", "customer_name"}
	Fingerprint(order.IntentOrder, order.StageDelivery, missing, order.Draft{})
	if missing[0] != "delivery_method" || missing[1] != "customer_name" {
		t.Error("Fingerprint must not reorder the caller's slice")
	}
}
