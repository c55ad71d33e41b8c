package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	domerrors "github.com/talkorder/talkorder-go/internal/errors"
)

const merchantColumns = `id, name, business_type, line_destination, channel_secret, channel_token,
	auto_mode, enable_pickup_store, enable_pickup_meetup, enable_convenience_store, enable_black_cat,
	ai_quota_monthly, created_at`

func scanMerchant(row *sql.Row) (*Merchant, error) {
	var m Merchant
	var autoMode, pickupStore, pickupMeetup, convenience, blackCat int
	err := row.Scan(
		&m.ID, &m.Name, &m.BusinessType, &m.LineDestination, &m.ChannelSecret, &m.ChannelToken,
		&autoMode, &pickupStore, &pickupMeetup, &convenience, &blackCat,
		&m.AIQuotaMonthly, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.AutoMode = autoMode != 0
	m.Policy.EnablePickupStore = pickupStore != 0
	m.Policy.EnablePickupMeetup = pickupMeetup != 0
	m.Policy.EnableConvenienceStore = convenience != 0
	m.Policy.EnableBlackCat = blackCat != 0
	return &m, nil
}

// GetMerchant retrieves a merchant by id.
func (db *DB) GetMerchant(ctx context.Context, id string) (*Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = ?`
	m, err := scanMerchant(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domerrors.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query merchant: %w", err)
	}
	return m, nil
}

// GetMerchantByDestination retrieves a merchant by the LINE webhook
// destination (the bot's user id carried in the webhook envelope).
func (db *DB) GetMerchantByDestination(ctx context.Context, destination string) (*Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE line_destination = ?`
	m, err := scanMerchant(db.conn.QueryRowContext(ctx, query, destination))
	if err == sql.ErrNoRows {
		return nil, domerrors.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query merchant by destination: %w", err)
	}
	return m, nil
}

// SaveMerchant inserts or updates a merchant record.
func (db *DB) SaveMerchant(ctx context.Context, m *Merchant) error {
	query := `
		INSERT INTO merchants (` + merchantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			business_type = excluded.business_type,
			line_destination = excluded.line_destination,
			channel_secret = excluded.channel_secret,
			channel_token = excluded.channel_token,
			auto_mode = excluded.auto_mode,
			enable_pickup_store = excluded.enable_pickup_store,
			enable_pickup_meetup = excluded.enable_pickup_meetup,
			enable_convenience_store = excluded.enable_convenience_store,
			enable_black_cat = excluded.enable_black_cat,
			ai_quota_monthly = excluded.ai_quota_monthly
	`
	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query,
		m.ID, m.Name, m.BusinessType, m.LineDestination, m.ChannelSecret, m.ChannelToken,
		boolInt(m.AutoMode), boolInt(m.Policy.EnablePickupStore), boolInt(m.Policy.EnablePickupMeetup),
		boolInt(m.Policy.EnableConvenienceStore), boolInt(m.Policy.EnableBlackCat),
		m.AIQuotaMonthly, createdAt,
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save merchant",
			"merchant_id", m.ID,
			"error", err)
		return fmt.Errorf("failed to save merchant: %w", err)
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database operation",
			"operation", "SaveMerchant",
			"duration_ms", duration.Milliseconds(),
			"merchant_id", m.ID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
