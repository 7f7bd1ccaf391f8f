package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
	"github.com/Luffy998899/Astra/internal/observability"
	"github.com/Luffy998899/Astra/internal/repository"
)

// claimCooldown is how long a user stays ineligible after a successful AFK
// claim.
const claimCooldown = 60 * time.Second

// CoinService owns the AFK claim gate and balance reads.
type CoinService struct {
	store repository.Store
	now   func() time.Time
}

func NewCoinService(store repository.Store) *CoinService {
	return &CoinService{store: store, now: time.Now}
}

// Claim credits coins_per_minute to the user unless the cooldown is still
// running. adblockDetected is the client's self-report and gates the claim
// before any state is touched.
func (s *CoinService) Claim(ctx context.Context, userID string, adblockDetected bool) (int64, error) {
	if adblockDetected {
		observability.AfkClaimDenials.WithLabelValues(domain.ErrAdblockRequired.Code).Inc()
		return 0, domain.ErrAdblockRequired
	}

	now := s.now().UTC()

	earned, err := repository.Transact(ctx, s.store, func(l repository.Ledger) (int64, error) {
		settings, err := l.GetCoinSettings(ctx)
		if err != nil {
			return 0, err
		}
		user, err := l.GetUser(ctx, userID)
		if err != nil {
			return 0, err
		}

		if user.LastClaimTime != nil {
			elapsed := int(now.Sub(*user.LastClaimTime) / time.Second)
			if elapsed < int(claimCooldown/time.Second) {
				return 0, &domain.CooldownError{WaitSeconds: int(claimCooldown/time.Second) - elapsed}
			}
		}

		if err := l.IncrementCoins(ctx, userID, settings.CoinsPerMinute); err != nil {
			return 0, err
		}
		if err := l.SetLastClaimTime(ctx, userID, now); err != nil {
			return 0, err
		}
		return settings.CoinsPerMinute, nil
	})
	if err != nil {
		var ce *domain.CooldownError
		switch {
		case errors.As(err, &ce):
			observability.AfkClaimDenials.WithLabelValues("COOLDOWN_ACTIVE").Inc()
		case errors.Is(err, domain.ErrBusy):
			observability.LedgerBusyTotal.Inc()
		}
		return 0, err
	}

	observability.AfkClaimsTotal.Inc()
	return earned, nil
}

// Balance is a standalone status read outside any transaction.
func (s *CoinService) Balance(ctx context.Context, userID string) (domain.User, error) {
	return s.store.GetUser(ctx, userID)
}
