package order

// deliveryFields are the missing-field names that put a conversation in
// the delivery stage. The method itself is not in this set: while the
// method is undecided the conversation is still in the ordering stage.
var deliveryFields = []string{
	FieldPickupType,
	FieldPickupLocation,
	FieldDeliveryDate,
	FieldDeliveryTime,
	FieldStoreInfo,
	FieldShippingAddress,
}

// InferStage maps a normalized extraction outcome to a conversation
// stage, by priority: done > inquiry > ordering > delivery > contact.
// It never returns StageDone unless isComplete is true.
func InferStage(isComplete bool, hasItems bool, missing []string) Stage {
	if isComplete {
		return StageDone
	}
	if !hasItems {
		return StageInquiry
	}
	if containsField(missing, FieldDeliveryMethod) {
		return StageOrdering
	}
	if containsAnyField(missing, deliveryFields...) {
		return StageDelivery
	}
	if containsAnyField(missing, FieldCustomerName, FieldCustomerPhone) {
		return StageContact
	}
	return StageOrdering
}

// DeriveStageHint runs before the LLM call, over the conversation's
// already-collected data, to tell the extractor which stage to focus its
// next question on. This keeps the model from re-asking for fields the
// user already supplied or jumping ahead. It agrees with InferStage:
// items present but no delivery method means the user is still listing
// items, so the hint stays at ordering.
func DeriveStageHint(d Draft) Stage {
	if !d.HasItems() {
		return StageInquiry
	}
	if d.DeliveryMethod == "" {
		return StageOrdering
	}

	missing := ComputeMissingFields(d)
	// Method present: its required sub-fields decide delivery vs contact.
	if containsAnyField(missing,
		FieldPickupType, FieldPickupLocation, FieldDeliveryDate,
		FieldDeliveryTime, FieldStoreInfo, FieldShippingAddress) {
		return StageDelivery
	}
	if containsAnyField(missing, FieldCustomerName, FieldCustomerPhone) {
		return StageContact
	}
	return StageDone
}
