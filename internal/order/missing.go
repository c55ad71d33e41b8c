package order

// ComputeMissingFields derives the set of required-but-absent fields
// blocking materialization. It is the canonical definition of "order
// ready to materialize" and is always recomputed by the system; the
// extractor's own completeness judgment is never trusted.
//
// Rules:
//   - no items short-circuits to {items}
//   - pickup requires pickup_type (plus pickup_location for meetup),
//     delivery_date and delivery_time
//   - convenience_store requires store_info and delivery_date (no time)
//   - black_cat requires shipping_address and delivery_date (no time)
//   - onsite (service merchants) requires delivery_date and delivery_time
//   - customer_name and customer_phone are always required
func ComputeMissingFields(d Draft) []string {
	if !d.HasItems() {
		return []string{FieldItems}
	}

	var missing []string

	switch d.DeliveryMethod {
	case "":
		missing = append(missing, FieldDeliveryMethod)
	case MethodPickup:
		if d.PickupType == "" {
			missing = append(missing, FieldPickupType)
		} else if d.PickupType == PickupMeetup && d.PickupLocation == "" {
			missing = append(missing, FieldPickupLocation)
		}
		if d.DeliveryDate == "" {
			missing = append(missing, FieldDeliveryDate)
		}
		if d.DeliveryTime == "" {
			missing = append(missing, FieldDeliveryTime)
		}
	case MethodConvenienceStore:
		if d.StoreInfo == "" {
			missing = append(missing, FieldStoreInfo)
		}
		if d.DeliveryDate == "" {
			missing = append(missing, FieldDeliveryDate)
		}
	case MethodBlackCat:
		if d.ShippingAddress == "" {
			missing = append(missing, FieldShippingAddress)
		}
		if d.DeliveryDate == "" {
			missing = append(missing, FieldDeliveryDate)
		}
	case MethodOnsite:
		if d.DeliveryDate == "" {
			missing = append(missing, FieldDeliveryDate)
		}
		if d.DeliveryTime == "" {
			missing = append(missing, FieldDeliveryTime)
		}
	}

	if d.CustomerName == "" {
		missing = append(missing, FieldCustomerName)
	}
	if d.CustomerPhone == "" {
		missing = append(missing, FieldCustomerPhone)
	}

	return missing
}

// IsComplete reports whether the draft can be materialized: it has items
// and no missing required fields.
func IsComplete(d Draft) bool {
	return d.HasItems() && len(ComputeMissingFields(d)) == 0
}

// containsField reports whether a missing-field set contains the field.
func containsField(missing []string, field string) bool {
	for _, f := range missing {
		if f == field {
			return true
		}
	}
	return false
}

// containsAnyField reports whether a missing-field set contains any of
// the given fields.
func containsAnyField(missing []string, fields ...string) bool {
	for _, f := range fields {
		if containsField(missing, f) {
			return true
		}
	}
	return false
}
