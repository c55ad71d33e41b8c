package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	domerrors "github.com/talkorder/talkorder-go/internal/errors"
	"github.com/talkorder/talkorder-go/internal/order"
)

func newTestStore(t *testing.T) *DB {
	t.Helper()
	db, err := NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMerchant(t *testing.T, db *DB, id string) *Merchant {
	t.Helper()
	m := &Merchant{
		ID:              id,
		Name:            "測試烘焙坊",
		BusinessType:    "bakery",
		LineDestination: "U" + id,
		ChannelSecret:   "secret-" + id,
		ChannelToken:    "token-" + id,
		AutoMode:        true,
		Policy: order.DeliveryPolicy{
			EnablePickupStore: true,
			EnableBlackCat:    true,
		},
		AIQuotaMonthly: 100,
	}
	if err := db.SaveMerchant(context.Background(), m); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}
	return m
}

// TestNew_FileSystemDatabase tests database creation with file system persistence
func TestNew_FileSystemDatabase(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file not created: %s", dbPath)
	}

	ctx := context.Background()
	m := &Merchant{
		ID:              "m1",
		Name:            "店家",
		BusinessType:    "bakery",
		LineDestination: "Udest",
		ChannelSecret:   "s",
		ChannelToken:    "t",
	}
	if err := db.SaveMerchant(ctx, m); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}

	retrieved, err := db.GetMerchantByDestination(ctx, "Udest")
	if err != nil {
		t.Fatalf("GetMerchantByDestination failed: %v", err)
	}
	if retrieved.ID != "m1" {
		t.Errorf("Expected merchant m1, got %s", retrieved.ID)
	}
}

func TestGetMerchant_NotFound(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()

	if _, err := db.GetMerchant(ctx, "missing"); !errors.Is(err, domerrors.ErrMerchantNotFound) {
		t.Errorf("Expected ErrMerchantNotFound, got %v", err)
	}
	if _, err := db.GetMerchantByDestination(ctx, "missing"); !errors.Is(err, domerrors.ErrMerchantNotFound) {
		t.Errorf("Expected ErrMerchantNotFound, got %v", err)
	}
}

func TestGetOrCreateConversation_ReusesActive(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	first, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if first.Status != StatusCollecting {
		t.Errorf("Expected status collecting_info, got %s", first.Status)
	}

	second, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("Second GetOrCreateConversation failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected same conversation, got %s and %s", first.ID, second.ID)
	}
}

func TestGetOrCreateConversation_NewAfterCompletion(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	first, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if err := db.CompleteConversation(ctx, first.ID, "order-1"); err != nil {
		t.Fatalf("CompleteConversation failed: %v", err)
	}

	second, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation after completion failed: %v", err)
	}
	if second.ID == first.ID {
		t.Error("Expected a fresh conversation after completion")
	}
}

func TestUpdateConversationData_RoundTrip(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	price := 120.0
	draft := order.Draft{
		CustomerName: "王小明",
		Items: []order.Item{
			{Name: "檸檬塔", Quantity: 2, Price: &price},
		},
		DeliveryMethod: order.MethodPickup,
	}
	missing := []string{order.FieldPickupType, order.FieldDeliveryDate, order.FieldDeliveryTime, order.FieldCustomerPhone}

	if err := db.UpdateConversationData(ctx, c.ID, draft, missing); err != nil {
		t.Fatalf("UpdateConversationData failed: %v", err)
	}

	got, err := db.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.CollectedData.CustomerName != "王小明" {
		t.Errorf("Expected customer name round trip, got %q", got.CollectedData.CustomerName)
	}
	if len(got.CollectedData.Items) != 1 || got.CollectedData.Items[0].Quantity != 2 {
		t.Errorf("Expected items round trip, got %+v", got.CollectedData.Items)
	}
	if got.CollectedData.Items[0].Price == nil || *got.CollectedData.Items[0].Price != 120.0 {
		t.Errorf("Expected price round trip, got %+v", got.CollectedData.Items[0].Price)
	}
	if len(got.MissingFields) != len(missing) {
		t.Errorf("Expected %d missing fields, got %v", len(missing), got.MissingFields)
	}
}

func TestUpdateConversationData_NotFound(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)

	err := db.UpdateConversationData(context.Background(), "missing", order.Draft{}, nil)
	if !errors.Is(err, domerrors.ErrConversationNotFound) {
		t.Errorf("Expected ErrConversationNotFound, got %v", err)
	}
}

func TestCompleteConversation_Idempotent(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	if err := db.CompleteConversation(ctx, c.ID, "order-1"); err != nil {
		t.Fatalf("CompleteConversation failed: %v", err)
	}
	// A second completion attempt must not overwrite the linked order.
	if err := db.CompleteConversation(ctx, c.ID, "order-2"); err != nil {
		t.Fatalf("Second CompleteConversation failed: %v", err)
	}

	got, err := db.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Expected completed status, got %s", got.Status)
	}
	if got.OrderID != "order-1" {
		t.Errorf("Expected original order id to stick, got %s", got.OrderID)
	}
}

func TestAbandonConversation_SkipsCompleted(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if err := db.CompleteConversation(ctx, c.ID, "order-1"); err != nil {
		t.Fatalf("CompleteConversation failed: %v", err)
	}
	if err := db.AbandonConversation(ctx, c.ID); err != nil {
		t.Fatalf("AbandonConversation failed: %v", err)
	}

	got, err := db.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Expected completed conversation untouched, got %s", got.Status)
	}
}

func TestAbandonStaleConversations(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	// Backdate the last message beyond the cutoff.
	old := time.Now().Add(-100 * time.Hour).Unix()
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, old, c.ID); err != nil {
		t.Fatalf("Failed to backdate conversation: %v", err)
	}

	n, err := db.AbandonStaleConversations(ctx, 72*time.Hour)
	if err != nil {
		t.Fatalf("AbandonStaleConversations failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 abandoned conversation, got %d", n)
	}

	got, err := db.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != StatusAbandoned {
		t.Errorf("Expected abandoned status, got %s", got.Status)
	}
}

func TestCreateOrderFromAI_IdempotentPerConversation(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	price := 250.0
	o := &Order{
		MerchantID:     "m1",
		ConversationID: c.ID,
		CustomerName:   "王小明",
		CustomerPhone:  "0912345678",
		Items:          []order.Item{{Name: "生日蛋糕", Quantity: 1, Price: &price}},
		DeliveryMethod: string(order.MethodPickup),
		PickupType:     string(order.PickupStore),
		DeliveryDate:   "2026-09-01",
		DeliveryTime:   "14:00",
		Status:         OrderStatusPending,
	}

	firstID, created, err := db.CreateOrderFromAI(ctx, o)
	if err != nil {
		t.Fatalf("CreateOrderFromAI failed: %v", err)
	}
	if !created {
		t.Error("Expected first call to create the order")
	}

	secondID, created, err := db.CreateOrderFromAI(ctx, o)
	if err != nil {
		t.Fatalf("Second CreateOrderFromAI failed: %v", err)
	}
	if created {
		t.Error("Expected second call to reuse the order")
	}
	if secondID != firstID {
		t.Errorf("Expected same order id, got %s and %s", firstID, secondID)
	}

	count, err := db.CountOrdersForConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountOrdersForConversation failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly one order, got %d", count)
	}

	got, err := db.GetOrder(ctx, firstID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected order, got nil")
	}
	if got.OrderNo == "" {
		t.Error("Expected generated order number")
	}
	if len(got.Items) != 1 || got.Items[0].Name != "生日蛋糕" {
		t.Errorf("Expected items round trip, got %+v", got.Items)
	}
}

func TestReserveReplySlot_SuppressesDuplicateIntent(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	granted, err := db.ReserveReplySlot(ctx, c.ID, "hash-a", time.Hour)
	if err != nil {
		t.Fatalf("ReserveReplySlot failed: %v", err)
	}
	if !granted {
		t.Error("Expected first reservation to be granted")
	}

	// Same intent inside the cooldown window is suppressed.
	granted, err = db.ReserveReplySlot(ctx, c.ID, "hash-a", time.Hour)
	if err != nil {
		t.Fatalf("Duplicate ReserveReplySlot failed: %v", err)
	}
	if granted {
		t.Error("Expected duplicate intent to be suppressed")
	}

	// A different intent is always granted.
	granted, err = db.ReserveReplySlot(ctx, c.ID, "hash-b", time.Hour)
	if err != nil {
		t.Fatalf("ReserveReplySlot with new intent failed: %v", err)
	}
	if !granted {
		t.Error("Expected new intent to be granted")
	}
}

func TestReserveReplySlot_GrantsAfterExpiry(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	// Zero cooldown expires the slot at reservation time.
	if _, err := db.ReserveReplySlot(ctx, c.ID, "hash-a", 0); err != nil {
		t.Fatalf("ReserveReplySlot failed: %v", err)
	}

	granted, err := db.ReserveReplySlot(ctx, c.ID, "hash-a", time.Hour)
	if err != nil {
		t.Fatalf("ReserveReplySlot after expiry failed: %v", err)
	}
	if !granted {
		t.Error("Expected expired slot to be re-granted")
	}
}

func TestCleanupExpiredReplySlots(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	if _, err := db.ReserveReplySlot(ctx, c.ID, "hash-a", 0); err != nil {
		t.Fatalf("ReserveReplySlot failed: %v", err)
	}

	deleted, err := db.CleanupExpiredReplySlots(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredReplySlots failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 expired slot deleted, got %d", deleted)
	}
}

func TestCheckAIQuota(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	m := seedMerchant(t, db, "m1")
	m.AIQuotaMonthly = 2
	if err := db.SaveMerchant(ctx, m); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}

	result, err := db.CheckAIQuota(ctx, "m1")
	if err != nil {
		t.Fatalf("CheckAIQuota failed: %v", err)
	}
	if !result.Allowed || result.Used != 0 {
		t.Errorf("Expected fresh quota allowed, got %+v", result)
	}

	db.RecordAIUsage(ctx, "m1", "c1", "openai", "gpt-4o-mini", 500)
	db.RecordAIUsage(ctx, "m1", "c1", "openai", "gpt-4o-mini", 600)

	result, err = db.CheckAIQuota(ctx, "m1")
	if err != nil {
		t.Fatalf("CheckAIQuota failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected quota exhausted at limit, got %+v", result)
	}
	if result.Used != 2 || result.Limit != 2 {
		t.Errorf("Expected used=2 limit=2, got %+v", result)
	}
}

func TestCheckAIQuota_ZeroMeansUnlimited(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	m := seedMerchant(t, db, "m1")
	m.AIQuotaMonthly = 0
	if err := db.SaveMerchant(ctx, m); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}

	db.RecordAIUsage(ctx, "m1", "c1", "gemini", "gemini-2.0-flash", 400)

	result, err := db.CheckAIQuota(ctx, "m1")
	if err != nil {
		t.Fatalf("CheckAIQuota failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected zero quota to mean unlimited, got %+v", result)
	}
}

func TestGetConversationHistory_LimitAndOrder(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	c, err := db.GetOrCreateConversation(ctx, "m1", "Uuser1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	base := time.Now().Unix() - 100
	contents := []string{"你好", "請問有什麼可以幫您?", "我要訂蛋糕", "好的,請問取貨方式?"}
	for i, content := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg := &Message{
			ConversationID: c.ID,
			MerchantID:     "m1",
			LineUserID:     "Uuser1",
			Role:           role,
			Content:        content,
			CreatedAt:      base + int64(i),
		}
		if err := db.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	history, err := db.GetConversationHistory(ctx, c.ID, 3)
	if err != nil {
		t.Fatalf("GetConversationHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "好的,請問取貨方式?" {
		t.Errorf("Expected newest message first, got %q", history[0].Content)
	}
}

func TestListActiveProducts(t *testing.T) {
	t.Parallel()
	db := newTestStore(t)
	ctx := context.Background()
	seedMerchant(t, db, "m1")

	products := []*Product{
		{ID: "p1", MerchantID: "m1", Name: "檸檬塔", Price: 120, IsActive: true},
		{ID: "p2", MerchantID: "m1", Name: "巴斯克蛋糕", Price: 450, IsActive: true},
		{ID: "p3", MerchantID: "m1", Name: "下架品", Price: 999, IsActive: false},
	}
	for _, p := range products {
		if err := db.SaveProduct(ctx, p); err != nil {
			t.Fatalf("SaveProduct failed: %v", err)
		}
	}

	active, err := db.ListActiveProducts(ctx, "m1")
	if err != nil {
		t.Fatalf("ListActiveProducts failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active products, got %d", len(active))
	}
	for _, p := range active {
		if p.ID == "p3" {
			t.Error("Inactive product should be excluded")
		}
	}
}
