package order

import (
	"reflect"
	"testing"
)

func TestMergeOverwritesNonEmpty(t *testing.T) {
	current := Draft{
		CustomerName:   "王小明",
		DeliveryMethod: MethodPickup,
		Items:          []Item{{Name: "巴斯克蛋糕", Quantity: 1}},
	}
	update := Draft{
		CustomerName:  "王大明",
		CustomerPhone: "0912345678",
	}

	merged := Merge(current, update)

	if merged.CustomerName != "王大明" {
		t.Errorf("CustomerName = %q, want overwritten value", merged.CustomerName)
	}
	if merged.CustomerPhone != "0912345678" {
		t.Errorf("CustomerPhone = %q, want new value", merged.CustomerPhone)
	}
	if merged.DeliveryMethod != MethodPickup {
		t.Errorf("DeliveryMethod = %q, absent field must be preserved", merged.DeliveryMethod)
	}
	if len(merged.Items) != 1 || merged.Items[0].Name != "巴斯克蛋糕" {
		t.Errorf("Items = %v, absent items must be preserved", merged.Items)
	}
}

func TestMergeNeverDeletesByOmission(t *testing.T) {
	amount := 1280.0
	dur := 60
	frozen := true
	current := Draft{
		CustomerName:    "王小明",
		CustomerPhone:   "0912345678",
		Items:           []Item{{Name: "巴斯克蛋糕", Quantity: 1, Price: &amount}},
		DeliveryDate:    "2025-03-10",
		DeliveryTime:    "14:00",
		DeliveryMethod:  MethodPickup,
		PickupType:      PickupStore,
		PickupLocation:  "台北車站",
		StoreInfo:       "全家中山店",
		ShippingAddress: "台北市中山區",
		RequiresFrozen:  &frozen,
		ServiceDuration: &dur,
		ServiceNotes:    "深層",
		CustomerNotes:   "不要太甜",
		TotalAmount:     &amount,
		LineDisplayName: "小明",
	}

	merged := Merge(current, Draft{})
	if !reflect.DeepEqual(merged, current) {
		t.Errorf("Merge with empty update changed the draft:\n got %+v\nwant %+v", merged, current)
	}
}

func TestMergeItemsReplacedWholesale(t *testing.T) {
	current := Draft{Items: []Item{{Name: "a", Quantity: 1}, {Name: "b", Quantity: 2}}}
	update := Draft{Items: []Item{{Name: "c", Quantity: 3}}}

	merged := Merge(current, update)
	if len(merged.Items) != 1 || merged.Items[0].Name != "c" {
		t.Errorf("Items = %v, want wholesale replacement by update", merged.Items)
	}
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	current := Draft{Items: []Item{{Name: "a", Quantity: 1}}}
	update := Draft{Items: []Item{{Name: "b", Quantity: 1}}}

	merged := Merge(current, update)
	merged.Items[0].Name = "mutated"

	if current.Items[0].Name != "a" || update.Items[0].Name != "b" {
		t.Error("Merge result aliases input slices")
	}
}
