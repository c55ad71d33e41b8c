// Command seed creates or updates a merchant row, and optionally a
// demo product catalog, for local development and first-run setup.
// There is no admin surface in this service; merchants are provisioned
// out of band.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/talkorder/talkorder-go/internal/config"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

func main() {
	var (
		id           = flag.String("id", "", "Merchant id (default: new UUID)")
		name         = flag.String("name", "", "Merchant display name (required)")
		businessType = flag.String("business-type", "bakery", "Business type (bakery, restaurant, beauty, massage, nail, pet, ...)")
		destination  = flag.String("destination", "", "LINE bot destination user id (required)")
		secret       = flag.String("channel-secret", "", "LINE channel secret (required)")
		token        = flag.String("channel-token", "", "LINE channel access token (required)")
		autoMode     = flag.Bool("auto", true, "Reply to end users automatically")
		quota        = flag.Int("quota", -1, "Monthly AI call quota (0 = unlimited, -1 = DEFAULT_AI_QUOTA)")
		methods      = flag.String("methods", "pickup_store", "Comma-separated delivery methods: pickup_store, pickup_meetup, convenience_store, black_cat")
		demoCatalog  = flag.Bool("demo-catalog", false, "Seed a small demo product catalog")
	)
	flag.Parse()

	if *name == "" || *destination == "" || *secret == "" || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	db, err := storage.New(cfg.SQLitePath())
	if err != nil {
		fatal("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	merchantID := *id
	if merchantID == "" {
		merchantID = uuid.NewString()
	}
	if *quota < 0 {
		*quota = cfg.DefaultAIQuota
	}

	merchant := &storage.Merchant{
		ID:              merchantID,
		Name:            *name,
		BusinessType:    *businessType,
		LineDestination: *destination,
		ChannelSecret:   *secret,
		ChannelToken:    *token,
		AutoMode:        *autoMode,
		AIQuotaMonthly:  *quota,
		Policy:          parsePolicy(*methods),
	}

	ctx := context.Background()
	if err := db.SaveMerchant(ctx, merchant); err != nil {
		fatal("save merchant: %v", err)
	}
	fmt.Printf("merchant %s (%s) saved\n", merchant.Name, merchant.ID)

	if *demoCatalog {
		for _, p := range demoProducts(merchant.ID) {
			if err := db.SaveProduct(ctx, p); err != nil {
				fatal("save product %s: %v", p.Name, err)
			}
		}
		fmt.Println("demo catalog seeded")
	}
}

func parsePolicy(methods string) order.DeliveryPolicy {
	var p order.DeliveryPolicy
	for _, m := range strings.Split(methods, ",") {
		switch strings.TrimSpace(m) {
		case "pickup_store":
			p.EnablePickupStore = true
		case "pickup_meetup":
			p.EnablePickupMeetup = true
		case "convenience_store":
			p.EnableConvenienceStore = true
		case "black_cat":
			p.EnableBlackCat = true
		case "":
		default:
			fatal("unknown delivery method %q", m)
		}
	}
	return p
}

func demoProducts(merchantID string) []*storage.Product {
	return []*storage.Product{
		{ID: uuid.NewString(), MerchantID: merchantID, Name: "巴斯克蛋糕", Price: 1280, Description: "6吋原味巴斯克乳酪蛋糕", IsActive: true},
		{ID: uuid.NewString(), MerchantID: merchantID, Name: "檸檬塔", Price: 120, Description: "使用屏東九如檸檬", IsActive: true},
		{ID: uuid.NewString(), MerchantID: merchantID, Name: "可麗露", Price: 90, Description: "經典原味可麗露", IsActive: true},
	}
}

func fatal(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
