package order

import "strings"

// DeliveryPolicy is the merchant-scoped configuration of legal delivery
// methods. Any delivery_method or pickup_type absent from the enabled
// set must be stripped from an extraction result before it reaches
// collected data.
type DeliveryPolicy struct {
	EnablePickupStore      bool `json:"enable_pickup_store"`
	EnablePickupMeetup     bool `json:"enable_pickup_meetup"`
	EnableConvenienceStore bool `json:"enable_convenience_store"`
	EnableBlackCat         bool `json:"enable_black_cat"`
}

// ServicePolicy is the fixed policy of service-type merchants: onsite
// appointments only.
var ServicePolicy = DeliveryPolicy{}

// AllowedMethods returns the delivery methods the policy permits.
// Pickup is allowed when either store pickup or meetup is enabled.
func (p DeliveryPolicy) AllowedMethods() []DeliveryMethod {
	var methods []DeliveryMethod
	if p.EnablePickupStore || p.EnablePickupMeetup {
		methods = append(methods, MethodPickup)
	}
	if p.EnableConvenienceStore {
		methods = append(methods, MethodConvenienceStore)
	}
	if p.EnableBlackCat {
		methods = append(methods, MethodBlackCat)
	}
	return methods
}

// Allows reports whether the policy permits the delivery method.
// MethodOnsite is a service-merchant method and is always permitted;
// goods policies never produce it because the goods extractor does not
// offer it.
func (p DeliveryPolicy) Allows(m DeliveryMethod) bool {
	switch m {
	case MethodPickup:
		return p.EnablePickupStore || p.EnablePickupMeetup
	case MethodConvenienceStore:
		return p.EnableConvenienceStore
	case MethodBlackCat:
		return p.EnableBlackCat
	case MethodOnsite:
		return true
	default:
		return false
	}
}

// AllowsPickupType reports whether the pickup sub-mode is enabled.
func (p DeliveryPolicy) AllowsPickupType(t PickupType) bool {
	switch t {
	case PickupStore:
		return p.EnablePickupStore
	case PickupMeetup:
		return p.EnablePickupMeetup
	default:
		return false
	}
}

// MethodLabel returns the customer-facing display label for a method.
func MethodLabel(m DeliveryMethod) string {
	switch m {
	case MethodPickup:
		return "自取"
	case MethodConvenienceStore:
		return "超商店到店"
	case MethodBlackCat:
		return "黑貓宅配"
	case MethodOnsite:
		return "到店服務"
	default:
		return string(m)
	}
}

// AllowedMethodsText renders the enabled methods as a "、"-joined list of
// display labels for clarification replies and prompt text.
func (p DeliveryPolicy) AllowedMethodsText() string {
	methods := p.AllowedMethods()
	labels := make([]string, 0, len(methods))
	for _, m := range methods {
		labels = append(labels, MethodLabel(m))
	}
	return strings.Join(labels, "、")
}
