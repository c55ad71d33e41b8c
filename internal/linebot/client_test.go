package linebot

import (
	"context"
	"testing"

	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

func testMerchant(id, token string) *storage.Merchant {
	return &storage.Merchant{
		ID:           id,
		Name:         "測試商家",
		ChannelToken: token,
		Policy:       order.DeliveryPolicy{EnablePickupStore: true},
	}
}

func TestClientCache_ReusesClient(t *testing.T) {
	t.Parallel()
	cache := NewClientCache(logger.New("error"))
	ctx := context.Background()

	first, err := cache.Get(ctx, testMerchant("m1", "token-a"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := cache.Get(ctx, testMerchant("m1", "token-a"))
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	if first != second {
		t.Error("Expected the cached client to be reused")
	}
}

func TestClientCache_RotatedTokenRebuilds(t *testing.T) {
	t.Parallel()
	cache := NewClientCache(logger.New("error"))
	ctx := context.Background()

	first, err := cache.Get(ctx, testMerchant("m1", "token-a"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := cache.Get(ctx, testMerchant("m1", "token-b"))
	if err != nil {
		t.Fatalf("Get after rotation failed: %v", err)
	}
	if first == second {
		t.Error("Expected a new client after token rotation")
	}
}

func TestClientCache_MissingToken(t *testing.T) {
	t.Parallel()
	cache := NewClientCache(logger.New("error"))

	if _, err := cache.Get(context.Background(), testMerchant("m1", "")); err == nil {
		t.Error("Expected error for merchant without channel token")
	}
}

func TestClientCache_Forget(t *testing.T) {
	t.Parallel()
	cache := NewClientCache(logger.New("error"))
	ctx := context.Background()

	first, err := cache.Get(ctx, testMerchant("m1", "token-a"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	cache.Forget("m1")
	second, err := cache.Get(ctx, testMerchant("m1", "token-a"))
	if err != nil {
		t.Fatalf("Get after Forget failed: %v", err)
	}
	if first == second {
		t.Error("Expected a fresh client after Forget")
	}
}
