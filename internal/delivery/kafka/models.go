package kafka

import "time"

// RedeemedPayload is published to TopicRedeemed after a redemption commits.
type RedeemedPayload struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	CouponCode    string    `json:"coupon_code"`
	UserID        string    `json:"user_id"`
	IPAddress     string    `json:"ip_address"`
	Reward        int64     `json:"reward"`
	RedeemedAt    time.Time `json:"redeemed_at"`
}

// FlaggedPayload is published to TopicFlagged after a fraud-flag update
// commits. Denied distinguishes same-coupon IP abuse (redemption rejected)
// from cross-coupon IP reuse (redemption allowed through).
type FlaggedPayload struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	UserIDs       []string  `json:"user_ids"`
	IPAddress     string    `json:"ip_address"`
	CouponCode    string    `json:"coupon_code"`
	Denied        bool      `json:"denied"`
	FlaggedAt     time.Time `json:"flagged_at"`
}
