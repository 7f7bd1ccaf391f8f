package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// economyLockKey is the advisory lock shared by every WithTx unit. A single
// key serializes all economy writers, matching the single-writer embedded
// store this service can also run on.
const economyLockKey = 7201

// lockTimeoutSQLState is Postgres "lock_not_available".
const lockTimeoutSQLState = "55P03"

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over a pgx pool. Begin-immediate semantics
// come from taking an advisory transaction lock before the unit's first read,
// with SET LOCAL lock_timeout bounding the wait.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	pgLedger
}

type pgLedger struct {
	q pgQuerier
}

func NewPostgres(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		pool:        pool,
		lockTimeout: lockTimeout,
		pgLedger:    pgLedger{q: pool},
	}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Ledger) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	// The lock is taken before any of fn's reads run, so a second caller
	// blocks here until the first commits and then observes its full
	// post-commit state. A wait past lock_timeout surfaces as ErrBusy.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", economyLockKey); err != nil {
		_ = tx.Rollback(ctx)
		if isLockTimeout(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("acquire economy lock: %w", err)
	}

	if err := fn(pgLedger{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockTimeoutSQLState
}

func (s *PostgresStore) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, coins, balance, flagged, last_claim_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Coins, u.Balance, u.Flagged, u.LastClaimTime,
	)
	return err
}

func (s *PostgresStore) CreateCoupon(ctx context.Context, c domain.Coupon) (domain.Coupon, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO coupons (id, code, coin_reward, max_uses, per_user_limit, expires_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Code, c.CoinReward, c.MaxUses, c.PerUserLimit, c.ExpiresAt, c.Active,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
			return domain.Coupon{}, domain.ErrDuplicateCoupon
		}
		return domain.Coupon{}, err
	}
	return c, nil
}

func (l pgLedger) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := l.q.QueryRow(ctx,
		`SELECT id, username, coins, balance, flagged, last_claim_time FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Coins, &u.Balance, &u.Flagged, &u.LastClaimTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

func (l pgLedger) IncrementCoins(ctx context.Context, id string, delta int64) error {
	tag, err := l.q.Exec(ctx,
		`UPDATE users SET coins = coins + $2 WHERE id = $1 AND coins + $2 >= 0`,
		id, delta,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var one int
		if err := l.q.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, id).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return err
		}
		return domain.ErrInsufficientCoins
	}
	return nil
}

func (l pgLedger) FlagUsers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := l.q.Exec(ctx, `UPDATE users SET flagged = TRUE WHERE id = ANY($1)`, ids)
	return err
}

func (l pgLedger) SetLastClaimTime(ctx context.Context, id string, t time.Time) error {
	tag, err := l.q.Exec(ctx, `UPDATE users SET last_claim_time = $2 WHERE id = $1`, id, t)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (l pgLedger) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var c domain.Coupon
	err := l.q.QueryRow(ctx,
		`SELECT id, code, coin_reward, max_uses, per_user_limit, expires_at, active
		 FROM coupons WHERE code = $1`,
		code,
	).Scan(&c.ID, &c.Code, &c.CoinReward, &c.MaxUses, &c.PerUserLimit, &c.ExpiresAt, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Coupon{}, domain.ErrInvalidCoupon
		}
		return domain.Coupon{}, err
	}
	return c, nil
}

func (l pgLedger) CountRedemptions(ctx context.Context, couponID string) (int, error) {
	var n int
	err := l.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1`, couponID,
	).Scan(&n)
	return n, err
}

func (l pgLedger) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	err := l.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID,
	).Scan(&n)
	return n, err
}

func (l pgLedger) ListRedeemerIDsByIP(ctx context.Context, couponID, ip string) ([]string, error) {
	rows, err := l.q.Query(ctx,
		`SELECT DISTINCT user_id FROM coupon_redemptions WHERE coupon_id = $1 AND ip_address = $2`,
		couponID, ip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (l pgLedger) ListRedeemerIDsAnyCouponByIP(ctx context.Context, ip string) ([]string, error) {
	rows, err := l.q.Query(ctx,
		`SELECT DISTINCT user_id FROM coupon_redemptions WHERE ip_address = $1`, ip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l pgLedger) InsertRedemption(ctx context.Context, r domain.CouponRedemption) error {
	_, err := l.q.Exec(ctx,
		`INSERT INTO coupon_redemptions (id, coupon_id, user_id, ip_address, redeemed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.CouponID, r.UserID, r.IPAddress, r.RedeemedAt,
	)
	return err
}

func (l pgLedger) ListUserRedemptions(ctx context.Context, userID string) ([]domain.RedemptionRecord, error) {
	rows, err := l.q.Query(ctx,
		`SELECT c.code, c.coin_reward, r.ip_address, r.redeemed_at
		 FROM coupon_redemptions r
		 JOIN coupons c ON c.id = r.coupon_id
		 WHERE r.user_id = $1
		 ORDER BY r.redeemed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RedemptionRecord
	for rows.Next() {
		var rec domain.RedemptionRecord
		if err := rows.Scan(&rec.Code, &rec.CoinReward, &rec.IPAddress, &rec.RedeemedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l pgLedger) GetCoinSettings(ctx context.Context) (domain.CoinSettings, error) {
	var cs domain.CoinSettings
	err := l.q.QueryRow(ctx,
		`SELECT coins_per_minute FROM coin_settings WHERE id = 1`,
	).Scan(&cs.CoinsPerMinute)
	if err != nil {
		return domain.CoinSettings{}, fmt.Errorf("coin settings: %w", err)
	}
	return cs, nil
}

var _ Store = (*PostgresStore)(nil)
