package usecase

import (
	"context"
	"time"
)

// RedemptionEvent is emitted after a redemption commits.
type RedemptionEvent struct {
	CouponCode string
	UserID     string
	IPAddress  string
	Reward     int64
	RedeemedAt time.Time
}

// FraudFlagEvent is emitted after a flag update commits. Denied reports
// whether the triggering redemption was also rejected (same-coupon IP abuse)
// or allowed to proceed (cross-coupon IP reuse).
type FraudFlagEvent struct {
	UserIDs    []string
	IPAddress  string
	CouponCode string
	Denied     bool
	FlaggedAt  time.Time
}

// EventSink receives post-commit economy events. Implementations must not
// block the request path on delivery failures; the events are operator
// signals, not part of the transaction.
type EventSink interface {
	CouponRedeemed(ctx context.Context, ev RedemptionEvent)
	UsersFlagged(ctx context.Context, ev FraudFlagEvent)
}
