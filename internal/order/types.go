// Package order contains the pure domain logic of the slot-filling
// pipeline: the partial order record accumulated across conversation
// turns, the deterministic required-field validator, delivery policy
// enforcement, and ordering-stage inference.
//
// Nothing in this package touches I/O; everything is deterministic so
// the pipeline around the LLM call stays testable.
package order

import "encoding/json"

// DeliveryMethod identifies how a completed order reaches the customer.
type DeliveryMethod string

const (
	MethodPickup           DeliveryMethod = "pickup"
	MethodConvenienceStore DeliveryMethod = "convenience_store"
	MethodBlackCat         DeliveryMethod = "black_cat"
	// MethodOnsite is used by service-type merchants (beauty, massage,
	// nail, pet): the customer books an appointment instead of a delivery.
	MethodOnsite DeliveryMethod = "onsite"
)

// PickupType refines MethodPickup.
type PickupType string

const (
	PickupStore  PickupType = "store"
	PickupMeetup PickupType = "meetup"
)

// Stage is the current phase of slot-filling.
type Stage string

const (
	StageInquiry  Stage = "inquiry"
	StageOrdering Stage = "ordering"
	StageDelivery Stage = "delivery"
	StageContact  Stage = "contact"
	StageDone     Stage = "done"
)

// Intent classifies an inbound message.
type Intent string

const (
	IntentOrder   Intent = "order"
	IntentInquiry Intent = "inquiry"
	IntentOther   Intent = "other"
)

// Field name constants used in missing-field sets and stage inference.
const (
	FieldItems           = "items"
	FieldDeliveryMethod  = "delivery_method"
	FieldPickupType      = "pickup_type"
	FieldPickupLocation  = "pickup_location"
	FieldDeliveryDate    = "delivery_date"
	FieldDeliveryTime    = "delivery_time"
	FieldStoreInfo       = "store_info"
	FieldShippingAddress = "shipping_address"
	FieldCustomerName    = "customer_name"
	FieldCustomerPhone   = "customer_phone"
)

// Item is a single ordered product or service.
// Price is only ever copied from a catalog match, never fabricated.
type Item struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// Draft is the accumulating, partially-filled order record of a
// conversation. The zero value of every field means "not yet collected";
// string fields use "" as absent, numeric and boolean fields use nil.
type Draft struct {
	CustomerName    string         `json:"customer_name,omitempty"`
	CustomerPhone   string         `json:"customer_phone,omitempty"`
	Items           []Item         `json:"items,omitempty"`
	DeliveryDate    string         `json:"delivery_date,omitempty"`
	DeliveryTime    string         `json:"delivery_time,omitempty"`
	DeliveryMethod  DeliveryMethod `json:"delivery_method,omitempty"`
	PickupType      PickupType     `json:"pickup_type,omitempty"`
	PickupLocation  string         `json:"pickup_location,omitempty"`
	StoreInfo       string         `json:"store_info,omitempty"`
	ShippingAddress string         `json:"shipping_address,omitempty"`
	RequiresFrozen  *bool          `json:"requires_frozen,omitempty"`
	ServiceDuration *int           `json:"service_duration,omitempty"`
	ServiceNotes    string         `json:"service_notes,omitempty"`
	CustomerNotes   string         `json:"customer_notes,omitempty"`
	TotalAmount     *float64       `json:"total_amount,omitempty"`

	// LineDisplayName is a side channel backfilled from the LINE profile;
	// it is carried in collected data but is not an order field.
	LineDisplayName string `json:"line_display_name,omitempty"`
}

// HasItems reports whether at least one item has been collected.
func (d *Draft) HasItems() bool {
	return len(d.Items) > 0
}

// Clone returns a deep copy of the draft.
func (d *Draft) Clone() Draft {
	out := *d
	if d.Items != nil {
		out.Items = make([]Item, len(d.Items))
		copy(out.Items, d.Items)
	}
	if d.RequiresFrozen != nil {
		v := *d.RequiresFrozen
		out.RequiresFrozen = &v
	}
	if d.ServiceDuration != nil {
		v := *d.ServiceDuration
		out.ServiceDuration = &v
	}
	if d.TotalAmount != nil {
		v := *d.TotalAmount
		out.TotalAmount = &v
	}
	return out
}

// MarshalCollected serializes the draft as the conversation's
// collected_data payload.
func (d *Draft) MarshalCollected() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalCollected parses a collected_data payload into a draft.
// An empty payload yields an empty draft. Records written by older
// pipelines carried pickup_date/pickup_time instead of delivery_*;
// those keys are read as a fallback.
func UnmarshalCollected(data []byte) (Draft, error) {
	var d Draft
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return Draft{}, err
	}

	var legacy struct {
		PickupDate string `json:"pickup_date"`
		PickupTime string `json:"pickup_time"`
	}
	if err := json.Unmarshal(data, &legacy); err == nil {
		if d.DeliveryDate == "" {
			d.DeliveryDate = legacy.PickupDate
		}
		if d.DeliveryTime == "" {
			d.DeliveryTime = legacy.PickupTime
		}
	}
	return d, nil
}
