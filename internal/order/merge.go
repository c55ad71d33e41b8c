package order

// Merge folds a freshly extracted draft into the conversation's current
// collected data. New non-empty fields overwrite old ones; fields absent
// from the update are preserved. A field present in current is therefore
// never deleted by omission.
func Merge(current, update Draft) Draft {
	out := current.Clone()

	if update.CustomerName != "" {
		out.CustomerName = update.CustomerName
	}
	if update.CustomerPhone != "" {
		out.CustomerPhone = update.CustomerPhone
	}
	if len(update.Items) > 0 {
		out.Items = make([]Item, len(update.Items))
		copy(out.Items, update.Items)
	}
	if update.DeliveryDate != "" {
		out.DeliveryDate = update.DeliveryDate
	}
	if update.DeliveryTime != "" {
		out.DeliveryTime = update.DeliveryTime
	}
	if update.DeliveryMethod != "" {
		out.DeliveryMethod = update.DeliveryMethod
	}
	if update.PickupType != "" {
		out.PickupType = update.PickupType
	}
	if update.PickupLocation != "" {
		out.PickupLocation = update.PickupLocation
	}
	if update.StoreInfo != "" {
		out.StoreInfo = update.StoreInfo
	}
	if update.ShippingAddress != "" {
		out.ShippingAddress = update.ShippingAddress
	}
	if update.RequiresFrozen != nil {
		v := *update.RequiresFrozen
		out.RequiresFrozen = &v
	}
	if update.ServiceDuration != nil {
		v := *update.ServiceDuration
		out.ServiceDuration = &v
	}
	if update.ServiceNotes != "" {
		out.ServiceNotes = update.ServiceNotes
	}
	if update.CustomerNotes != "" {
		out.CustomerNotes = update.CustomerNotes
	}
	if update.TotalAmount != nil {
		v := *update.TotalAmount
		out.TotalAmount = &v
	}
	if update.LineDisplayName != "" {
		out.LineDisplayName = update.LineDisplayName
	}

	return out
}
