package domain

import "time"

// User is the economy's view of a panel account. Coins and balance are
// mutated only through ledger operations; this core never deletes users.
type User struct {
	ID            string
	Username      string
	Coins         int64
	Balance       float64
	Flagged       bool
	LastClaimTime *time.Time
}

// Coupon rows are created and edited by the admin surface. The redemption
// engine treats them as read-only.
type Coupon struct {
	ID           string
	Code         string
	CoinReward   int64
	MaxUses      int
	PerUserLimit int
	ExpiresAt    time.Time
	Active       bool
}

// CouponRedemption is an append-only fact. The accumulated rows are the sole
// source of truth for every usage-limit check; no counter column is trusted.
type CouponRedemption struct {
	ID         string
	CouponID   string
	UserID     string
	IPAddress  string
	RedeemedAt time.Time
}

// RedemptionRecord is a redemption joined with its coupon, for history views.
type RedemptionRecord struct {
	Code       string
	CoinReward int64
	IPAddress  string
	RedeemedAt time.Time
}

// CoinSettings is a singleton row read by the AFK claim gate.
type CoinSettings struct {
	CoinsPerMinute int64
}
