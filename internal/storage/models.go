package storage

import (
	"github.com/talkorder/talkorder-go/internal/order"
)

// Conversation status values.
const (
	StatusCollecting = "collecting_info"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

// Order status values. Pending means an appointment/delivery date is
// already set; draft means the order still needs scheduling by staff.
const (
	OrderStatusPending = "pending"
	OrderStatusDraft   = "draft"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Service-type business types get the onsite appointment flow; all other
// business types get the goods delivery flow.
var serviceBusinessTypes = map[string]bool{
	"beauty":  true,
	"massage": true,
	"nail":    true,
	"pet":     true,
}

// Merchant is a tenant: one LINE official account with its channel
// credentials, bot mode and delivery policy.
type Merchant struct {
	ID              string
	Name            string
	BusinessType    string
	LineDestination string
	ChannelSecret   string
	ChannelToken    string
	AutoMode        bool
	Policy          order.DeliveryPolicy
	AIQuotaMonthly  int
	CreatedAt       int64
}

// IsServiceBusiness reports whether the merchant uses the onsite
// appointment flow (beauty, massage, nail, pet).
func (m *Merchant) IsServiceBusiness() bool {
	return serviceBusinessTypes[m.BusinessType]
}

// Product is a catalog entry of a merchant.
type Product struct {
	ID          string
	MerchantID  string
	Name        string
	Price       float64
	Description string
	IsActive    bool
	CreatedAt   int64
}

// Conversation is one slot-filling dialogue between a merchant and a
// LINE user. At most one collecting_info conversation exists per
// (merchant, user) pair, enforced by a partial unique index.
type Conversation struct {
	ID            string
	MerchantID    string
	LineUserID    string
	Status        string
	CollectedData order.Draft
	MissingFields []string
	OrderID       string // set exactly once, when materialization succeeds
	CreatedAt     int64
	LastMessageAt int64
	UpdatedAt     int64
}

// Message is a single chat message stored for history and audit.
type Message struct {
	ID             int64
	ConversationID string
	MerchantID     string
	LineUserID     string
	LineMessageID  string
	Role           string
	Content        string
	CreatedAt      int64
}

// Order is a materialized order record.
type Order struct {
	ID              string
	OrderNo         string
	MerchantID      string
	ConversationID  string
	CustomerName    string
	CustomerPhone   string
	Items           []order.Item
	DeliveryMethod  string
	PickupType      string
	PickupLocation  string
	StoreInfo       string
	ShippingAddress string
	DeliveryDate    string
	DeliveryTime    string
	TotalAmount     *float64
	Notes           string
	Status          string
	CreatedAt       int64
}

// QuotaResult is the outcome of an AI quota check.
type QuotaResult struct {
	Allowed bool
	Used    int
	Limit   int // 0 means unlimited
}
