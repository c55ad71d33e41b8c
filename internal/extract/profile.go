package extract

import (
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// Profile customizes the extraction call per business type. Goods
// merchants get the full delivery-method branching; service merchants
// (beauty, massage, nail, pet) book appointments, so the delivery
// method is fixed to onsite and goods-only fields are dropped.
type Profile interface {
	Name() string
	SystemPrompt(req *Request) string
	ToolParameters() map[string]any
	// Sanitize applies business-type corrections to the proposed order
	// before the policy firewall runs.
	Sanitize(d *order.Draft)
}

// ProfileFor selects the extraction profile for a merchant.
func ProfileFor(m *storage.Merchant) Profile {
	if m.IsServiceBusiness() {
		return serviceProfile{}
	}
	return goodsProfile{}
}

type goodsProfile struct{}

func (goodsProfile) Name() string { return "goods" }

func (goodsProfile) SystemPrompt(req *Request) string {
	return buildGoodsPrompt(req)
}

func (goodsProfile) ToolParameters() map[string]any {
	return buildToolParameters(true)
}

func (goodsProfile) Sanitize(d *order.Draft) {
	// Appointment-only fields never apply to goods orders.
	d.ServiceDuration = nil
	d.ServiceNotes = ""
	if d.DeliveryMethod == order.MethodOnsite {
		d.DeliveryMethod = ""
	}
}

type serviceProfile struct{}

func (serviceProfile) Name() string { return "service" }

func (serviceProfile) SystemPrompt(req *Request) string {
	return buildServicePrompt(req)
}

func (serviceProfile) ToolParameters() map[string]any {
	return buildToolParameters(false)
}

func (serviceProfile) Sanitize(d *order.Draft) {
	d.DeliveryMethod = order.MethodOnsite
	d.PickupType = ""
	d.PickupLocation = ""
	d.StoreInfo = ""
	d.ShippingAddress = ""
	d.RequiresFrozen = nil
}
