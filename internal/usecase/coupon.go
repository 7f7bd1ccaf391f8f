package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
	"github.com/Luffy998899/Astra/internal/observability"
	"github.com/Luffy998899/Astra/internal/repository"
	"github.com/google/uuid"
)

// CouponService owns coupon redemption and the admin coupon surface.
type CouponService struct {
	store repository.Store
	sink  EventSink
	now   func() time.Time
}

// NewCouponService wires the service. sink may be nil when event emission is
// disabled.
func NewCouponService(store repository.Store, sink EventSink) *CouponService {
	return &CouponService{store: store, sink: sink, now: time.Now}
}

// redeemOutcome is what the transaction unit hands back. A gate-5 denial is
// reported here rather than as an error so the flag update commits while the
// redemption itself does not.
type redeemOutcome struct {
	reward  int64
	denied  *domain.Error
	flagged []string
}

// Redeem runs the full gate sequence as one write transaction and returns
// the coin reward on success. Gates, in order: coupon exists and is active,
// not expired, global max_uses, per-user limit, same-coupon IP abuse
// (flag + deny), cross-coupon IP reuse (flag, proceed).
func (s *CouponService) Redeem(ctx context.Context, code, userID, ipAddress string) (int64, error) {
	now := s.now().UTC()

	out, err := repository.Transact(ctx, s.store, func(l repository.Ledger) (redeemOutcome, error) {
		coupon, err := l.GetCouponByCode(ctx, code)
		if err != nil {
			return redeemOutcome{}, err
		}
		if !coupon.Active {
			return redeemOutcome{}, domain.ErrInvalidCoupon
		}
		if !coupon.ExpiresAt.After(now) {
			return redeemOutcome{}, domain.ErrExpiredCoupon
		}

		total, err := l.CountRedemptions(ctx, coupon.ID)
		if err != nil {
			return redeemOutcome{}, err
		}
		if total >= coupon.MaxUses {
			return redeemOutcome{}, domain.ErrMaxUsesReached
		}

		mine, err := l.CountUserRedemptions(ctx, coupon.ID, userID)
		if err != nil {
			return redeemOutcome{}, err
		}
		if mine >= coupon.PerUserLimit {
			return redeemOutcome{}, domain.ErrPerUserLimitReached
		}

		// Same coupon, same IP, different user is the direct signature of
		// coupon sharing: flag everyone involved and deny. The denial is
		// carried in the outcome so the flag write still commits.
		sameIP, err := l.ListRedeemerIDsByIP(ctx, coupon.ID, ipAddress)
		if err != nil {
			return redeemOutcome{}, err
		}
		if others := excluding(sameIP, userID); len(others) > 0 {
			implicated := append([]string{userID}, others...)
			if err := l.FlagUsers(ctx, implicated); err != nil {
				return redeemOutcome{}, err
			}
			return redeemOutcome{denied: domain.ErrIPAlreadyRedeemed, flagged: implicated}, nil
		}

		// IP reuse across different coupons is only a fraud signal: flag
		// the accounts but let this redemption proceed.
		var flagged []string
		anyIP, err := l.ListRedeemerIDsAnyCouponByIP(ctx, ipAddress)
		if err != nil {
			return redeemOutcome{}, err
		}
		if others := excluding(anyIP, userID); len(others) > 0 {
			flagged = append([]string{userID}, others...)
			if err := l.FlagUsers(ctx, flagged); err != nil {
				return redeemOutcome{}, err
			}
		}

		red := domain.CouponRedemption{
			ID:         uuid.NewString(),
			CouponID:   coupon.ID,
			UserID:     userID,
			IPAddress:  ipAddress,
			RedeemedAt: now,
		}
		if err := l.InsertRedemption(ctx, red); err != nil {
			return redeemOutcome{}, err
		}
		if err := l.IncrementCoins(ctx, userID, coupon.CoinReward); err != nil {
			return redeemOutcome{}, err
		}

		return redeemOutcome{reward: coupon.CoinReward, flagged: flagged}, nil
	})
	if err != nil {
		countDenial(err)
		return 0, err
	}

	if len(out.flagged) > 0 {
		observability.FlaggedUsersTotal.Add(float64(len(out.flagged)))
		if s.sink != nil {
			s.sink.UsersFlagged(ctx, FraudFlagEvent{
				UserIDs:    out.flagged,
				IPAddress:  ipAddress,
				CouponCode: code,
				Denied:     out.denied != nil,
				FlaggedAt:  now,
			})
		}
	}

	if out.denied != nil {
		observability.RedemptionDenials.WithLabelValues(out.denied.Code).Inc()
		return 0, out.denied
	}

	observability.RedemptionsTotal.Inc()
	if s.sink != nil {
		s.sink.CouponRedeemed(ctx, RedemptionEvent{
			CouponCode: code,
			UserID:     userID,
			IPAddress:  ipAddress,
			Reward:     out.reward,
			RedeemedAt: now,
		})
	}
	return out.reward, nil
}

// History returns the user's redemptions joined with coupon data, newest
// first. A plain read; no transaction needed.
func (s *CouponService) History(ctx context.Context, userID string) ([]domain.RedemptionRecord, error) {
	return s.store.ListUserRedemptions(ctx, userID)
}

// CreateCoupon is the admin surface. The redemption path never writes
// coupons; this exists so operators can mint them.
func (s *CouponService) CreateCoupon(ctx context.Context, c domain.Coupon) (domain.Coupon, error) {
	c.ID = uuid.NewString()
	return s.store.CreateCoupon(ctx, c)
}

// excluding returns ids without self, preserving order.
func excluding(ids []string, self string) []string {
	var out []string
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

func countDenial(err error) {
	if errors.Is(err, domain.ErrBusy) {
		observability.LedgerBusyTotal.Inc()
		return
	}
	var de *domain.Error
	if errors.As(err, &de) {
		observability.RedemptionDenials.WithLabelValues(de.Code).Inc()
	}
}
