package webhook

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/talkorder/talkorder-go/internal/conversation"
	"github.com/talkorder/talkorder-go/internal/extract"
	"github.com/talkorder/talkorder-go/internal/linebot"
	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/orders"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// stubExtractor returns a scripted result so pipeline behavior can be
// tested without a live model.
type stubExtractor struct {
	result *extract.Result
	err    error
	calls  atomic.Int32
}

func (s *stubExtractor) Extract(ctx context.Context, req *extract.Request) (*extract.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	// Copy so the normalizer's rewrites do not leak between calls.
	res := *s.result
	return &res, nil
}

func (s *stubExtractor) Provider() string { return "stub" }
func (s *stubExtractor) IsEnabled() bool  { return true }

type pipelineFixture struct {
	pipeline *Pipeline
	db       *storage.DB
	merchant *storage.Merchant
	stub     *stubExtractor
}

func newPipelineFixture(t *testing.T, stub *stubExtractor, mutate func(*storage.Merchant)) *pipelineFixture {
	t.Helper()
	db, err := storage.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// No channel token: the messaging client stays unavailable, which
	// keeps tests off the network. Replies are gated before sending.
	merchant := &storage.Merchant{
		ID:              "m1",
		Name:            "測試烘焙坊",
		BusinessType:    "bakery",
		LineDestination: "Udest",
		ChannelSecret:   "secret",
		Policy:          order.DeliveryPolicy{EnablePickupStore: true, EnableBlackCat: true},
	}
	if mutate != nil {
		mutate(merchant)
	}
	ctx := context.Background()
	if err := db.SaveMerchant(ctx, merchant); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}
	if err := db.SaveProduct(ctx, &storage.Product{
		ID: "p1", MerchantID: "m1", Name: "巴斯克蛋糕", Price: 1280, IsActive: true,
	}); err != nil {
		t.Fatalf("SaveProduct failed: %v", err)
	}

	log := logger.New("error")
	m := metrics.New(prometheus.NewRegistry())
	p := NewPipeline(PipelineConfig{
		DB:            db,
		Manager:       conversation.NewManager(db, log, m, 10),
		Materializer:  orders.NewMaterializer(db, log, m),
		Chain:         extract.NewChain(log, m, stub),
		Clients:       linebot.NewClientCache(log),
		Metrics:       m,
		Logger:        log,
		ReplyCooldown: 3 * time.Second,
	})
	return &pipelineFixture{pipeline: p, db: db, merchant: merchant, stub: stub}
}

func inbound(text string) Inbound {
	return Inbound{LineUserID: "Uuser", LineMessageID: "msg-1", ReplyToken: "rt-1", Text: text}
}

func activeConversation(t *testing.T, db *storage.DB) *storage.Conversation {
	t.Helper()
	conv, err := db.GetOrCreateConversation(context.Background(), "m1", "Uuser")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	return conv
}

func TestPipeline_PartialOrderPersistsCollectedData(t *testing.T) {
	t.Parallel()
	stub := &stubExtractor{result: &extract.Result{
		Intent:         order.IntentOrder,
		Order:          order.Draft{Items: []order.Item{{Name: "巴斯克蛋糕", Quantity: 1}}},
		SuggestedReply: "請問要如何取貨呢？",
	}}
	f := newPipelineFixture(t, stub, nil)
	ctx := context.Background()

	if err := f.pipeline.HandleText(ctx, f.merchant, inbound("我要一個巴斯克蛋糕")); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}

	conv := activeConversation(t, f.db)
	if len(conv.CollectedData.Items) != 1 {
		t.Fatalf("Items = %d, want 1", len(conv.CollectedData.Items))
	}
	if conv.CollectedData.Items[0].Price == nil || *conv.CollectedData.Items[0].Price != 1280 {
		t.Error("Expected the catalog price to be backfilled")
	}
	if conv.Status != storage.StatusCollecting {
		t.Errorf("Status = %s, want collecting_info", conv.Status)
	}
	if len(conv.MissingFields) == 0 {
		t.Error("Expected missing fields for a partial order")
	}
}

func TestPipeline_CompleteOrderMaterializes(t *testing.T) {
	t.Parallel()
	price := 1280.0
	stub := &stubExtractor{result: &extract.Result{
		Intent: order.IntentOrder,
		Order: order.Draft{
			Items:          []order.Item{{Name: "巴斯克蛋糕", Quantity: 1, Price: &price}},
			CustomerName:   "王小明",
			CustomerPhone:  "0912345678",
			DeliveryMethod: order.MethodPickup,
			PickupType:     order.PickupStore,
			DeliveryDate:   "2026-09-05",
			DeliveryTime:   "14:00",
		},
	}}
	f := newPipelineFixture(t, stub, nil)
	ctx := context.Background()

	if err := f.pipeline.HandleText(ctx, f.merchant, inbound("王小明 0912345678 自取 9/5 下午兩點")); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}

	count, err := f.db.CountOrders(ctx)
	if err != nil {
		t.Fatalf("CountOrders failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Order count = %d, want 1", count)
	}

	// The completed conversation must not be reused.
	conv := activeConversation(t, f.db)
	if conv.OrderID != "" || conv.Status != storage.StatusCollecting {
		t.Error("Expected a fresh conversation after completion")
	}
}

func TestPipeline_OffTopicAbandonsConversation(t *testing.T) {
	t.Parallel()
	stub := &stubExtractor{result: &extract.Result{
		Intent:         order.IntentOther,
		SuggestedReply: "不客氣！",
	}}
	f := newPipelineFixture(t, stub, nil)
	ctx := context.Background()

	first := activeConversation(t, f.db)
	if err := f.pipeline.HandleText(ctx, f.merchant, inbound("謝謝！")); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}

	got, err := f.db.GetConversation(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != storage.StatusAbandoned {
		t.Errorf("Status = %s, want abandoned", got.Status)
	}
}

func TestPipeline_ContinuationDoesNotAbandon(t *testing.T) {
	t.Parallel()
	stub := &stubExtractor{result: &extract.Result{
		Intent:         order.IntentOther,
		IsContinuation: true,
		SuggestedReply: "好的，還需要什麼呢？",
	}}
	f := newPipelineFixture(t, stub, nil)
	ctx := context.Background()

	first := activeConversation(t, f.db)
	if err := f.pipeline.HandleText(ctx, f.merchant, inbound("嗯嗯")); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}

	got, err := f.db.GetConversation(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != storage.StatusCollecting {
		t.Errorf("Status = %s, want collecting_info", got.Status)
	}
}

func TestPipeline_QuotaExhaustedStoresMessageSilently(t *testing.T) {
	t.Parallel()
	stub := &stubExtractor{result: &extract.Result{Intent: order.IntentOrder}}
	f := newPipelineFixture(t, stub, func(m *storage.Merchant) {
		m.AIQuotaMonthly = 1
	})
	ctx := context.Background()

	conv := activeConversation(t, f.db)
	f.db.RecordAIUsage(ctx, "m1", conv.ID, "openai", "gpt-4o-mini", 100)

	if err := f.pipeline.HandleText(ctx, f.merchant, inbound("我要訂蛋糕")); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}

	if got := f.stub.calls.Load(); got != 0 {
		t.Errorf("Extractor called %d times under exhausted quota, want 0", got)
	}
	history, err := f.db.GetConversationHistory(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("GetConversationHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("History length = %d, want the stored raw message", len(history))
	}
}

func TestPipeline_ExtractionFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	stub := &stubExtractor{err: errors.New("model unavailable")}
	f := newPipelineFixture(t, stub, nil)
	ctx := context.Background()

	conv := activeConversation(t, f.db)
	draft := order.Draft{Items: []order.Item{{Name: "檸檬塔", Quantity: 2}}}
	if err := f.db.UpdateConversationData(ctx, conv.ID, draft, []string{"customer_name"}); err != nil {
		t.Fatalf("UpdateConversationData failed: %v", err)
	}

	if err := f.pipeline.HandleText(ctx, f.merchant, inbound("再加一個")); err == nil {
		t.Fatal("Expected extraction error to propagate")
	}

	got, err := f.db.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(got.CollectedData.Items) != 1 || got.CollectedData.Items[0].Name != "檸檬塔" {
		t.Error("Collected data must survive an extraction failure unchanged")
	}
}

func TestPipeline_ReserveSlotSuppressesDuplicates(t *testing.T) {
	t.Parallel()
	stub := &stubExtractor{result: &extract.Result{Intent: order.IntentOrder}}
	f := newPipelineFixture(t, stub, nil)
	ctx := context.Background()

	conv := activeConversation(t, f.db)
	res := &extract.Result{
		Intent:        order.IntentOrder,
		Stage:         order.StageDelivery,
		MissingFields: []string{order.FieldDeliveryMethod},
	}
	merged := order.Draft{Items: []order.Item{{Name: "巴斯克蛋糕", Quantity: 1}}}
	log := logger.New("error")

	if !f.pipeline.reserveSlot(ctx, conv.ID, res, merged, log) {
		t.Fatal("First reservation must be granted")
	}
	if f.pipeline.reserveSlot(ctx, conv.ID, res, merged, log) {
		t.Error("Identical decision inside the cooldown must be suppressed")
	}

	// A different decision gets through immediately.
	res2 := &extract.Result{Intent: order.IntentOrder, Stage: order.StageContact, MissingFields: []string{order.FieldCustomerPhone}}
	if !f.pipeline.reserveSlot(ctx, conv.ID, res2, merged, log) {
		t.Error("A different decision must be granted a fresh slot")
	}
}
