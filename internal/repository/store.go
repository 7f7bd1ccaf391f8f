package repository

import (
	"context"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
)

// Ledger is the set of row operations the economy flows are built from.
// Inside WithTx the Ledger is transaction-scoped: every gating read and every
// write of a multi-step flow must go through it, never through an ambient
// handle, or the serialization guarantee is lost. Outside a transaction the
// Store's own Ledger methods are permitted for non-mutating status queries.
type Ledger interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	// IncrementCoins adds delta to the user's coins. Delta may be negative;
	// a result below zero is an error, never a clamp.
	IncrementCoins(ctx context.Context, id string, delta int64) error
	// FlagUsers marks every listed account in one batched update.
	FlagUsers(ctx context.Context, ids []string) error
	SetLastClaimTime(ctx context.Context, id string, t time.Time) error

	GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
	CountRedemptions(ctx context.Context, couponID string) (int, error)
	CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error)
	// ListRedeemerIDsByIP returns the distinct users that redeemed the given
	// coupon from the given address.
	ListRedeemerIDsByIP(ctx context.Context, couponID, ip string) ([]string, error)
	// ListRedeemerIDsAnyCouponByIP is the cross-coupon variant.
	ListRedeemerIDsAnyCouponByIP(ctx context.Context, ip string) ([]string, error)
	InsertRedemption(ctx context.Context, r domain.CouponRedemption) error
	ListUserRedemptions(ctx context.Context, userID string) ([]domain.RedemptionRecord, error)

	GetCoinSettings(ctx context.Context) (domain.CoinSettings, error)
}

// Store is the process-wide persistence handle. WithTx runs fn under
// begin-immediate semantics: the write-intent lock is held before any of
// fn's reads run, so two overlapping units never race past a stale check.
// An error from fn rolls the transaction back and propagates unchanged; a
// bounded lock wait that expires yields domain.ErrBusy. Nesting WithTx is
// not supported.
type Store interface {
	Ledger
	WithTx(ctx context.Context, fn func(Ledger) error) error

	// Admin-surface writes. The redemption and claim flows never call these.
	CreateUser(ctx context.Context, u domain.User) error
	CreateCoupon(ctx context.Context, c domain.Coupon) (domain.Coupon, error)
}

// Transact runs fn as a single WithTx unit and returns its value on commit.
func Transact[T any](ctx context.Context, s Store, fn func(Ledger) (T, error)) (T, error) {
	var out T
	err := s.WithTx(ctx, func(l Ledger) error {
		var err error
		out, err = fn(l)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
