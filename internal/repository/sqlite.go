package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store over an embedded SQLite database. The DSN
// sets _txlock=immediate so every database/sql transaction opens with
// BEGIN IMMEDIATE: the write lock is held before the unit's first read, and
// busy_timeout bounds how long a second writer waits before SQLITE_BUSY.
type SQLiteStore struct {
	db *sql.DB
	sqliteLedger
}

type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteLedger struct {
	q sqliteQuerier
}

// OpenSQLite opens (creating if needed) the database at path, applies the
// pragmas the panel has always run with, and migrates the schema.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, stmt := range sqliteMigrations() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}

	return &SQLiteStore{db: db, sqliteLedger: sqliteLedger{q: db}}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// sqliteMigrations returns the schema, one statement per string.
func sqliteMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			username        TEXT NOT NULL DEFAULT '',
			coins           INTEGER NOT NULL DEFAULT 0 CHECK (coins >= 0),
			balance         REAL NOT NULL DEFAULT 0,
			flagged         INTEGER NOT NULL DEFAULT 0,
			last_claim_time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			id             TEXT PRIMARY KEY,
			code           TEXT NOT NULL UNIQUE,
			coin_reward    INTEGER NOT NULL DEFAULT 0,
			max_uses       INTEGER NOT NULL DEFAULT 0,
			per_user_limit INTEGER NOT NULL DEFAULT 1,
			expires_at     TEXT NOT NULL,
			active         INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS coupon_redemptions (
			id          TEXT PRIMARY KEY,
			coupon_id   TEXT NOT NULL REFERENCES coupons(id),
			user_id     TEXT NOT NULL REFERENCES users(id),
			ip_address  TEXT NOT NULL,
			redeemed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_coupon ON coupon_redemptions(coupon_id)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_ip ON coupon_redemptions(ip_address)`,
		`CREATE TABLE IF NOT EXISTS coin_settings (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			coins_per_minute INTEGER NOT NULL DEFAULT 1
		)`,
		`INSERT OR IGNORE INTO coin_settings (id, coins_per_minute) VALUES (1, 1)`,
	}
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isSQLiteBusy(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(sqliteLedger{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		if isSQLiteBusy(err) {
			return domain.ErrBusy
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteBusy(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	var last any
	if u.LastClaimTime != nil {
		last = u.LastClaimTime.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, coins, balance, flagged, last_claim_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Coins, u.Balance, boolToInt(u.Flagged), last,
	)
	return err
}

func (s *SQLiteStore) CreateCoupon(ctx context.Context, c domain.Coupon) (domain.Coupon, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coupons (id, code, coin_reward, max_uses, per_user_limit, expires_at, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Code, c.CoinReward, c.MaxUses, c.PerUserLimit,
		c.ExpiresAt.UTC().Format(time.RFC3339Nano), boolToInt(c.Active),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.Coupon{}, domain.ErrDuplicateCoupon
		}
		return domain.Coupon{}, err
	}
	return c, nil
}

func (l sqliteLedger) GetUser(ctx context.Context, id string) (domain.User, error) {
	var (
		u       domain.User
		flagged int
		last    sql.NullString
	)
	err := l.q.QueryRowContext(ctx,
		`SELECT id, username, coins, balance, flagged, last_claim_time FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Username, &u.Coins, &u.Balance, &flagged, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	u.Flagged = flagged != 0
	if last.Valid {
		t, err := parseSQLiteTime(last.String)
		if err != nil {
			return domain.User{}, err
		}
		u.LastClaimTime = &t
	}
	return u, nil
}

func (l sqliteLedger) IncrementCoins(ctx context.Context, id string, delta int64) error {
	res, err := l.q.ExecContext(ctx,
		`UPDATE users SET coins = coins + ? WHERE id = ? AND coins + ? >= 0`,
		delta, id, delta,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		if err := l.q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return err
		}
		return domain.ErrInsufficientCoins
	}
	return nil
}

func (l sqliteLedger) FlagUsers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := l.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET flagged = 1 WHERE id IN (%s)`, placeholders),
		args...,
	)
	return err
}

func (l sqliteLedger) SetLastClaimTime(ctx context.Context, id string, t time.Time) error {
	res, err := l.q.ExecContext(ctx,
		`UPDATE users SET last_claim_time = ? WHERE id = ?`,
		t.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (l sqliteLedger) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var (
		c       domain.Coupon
		expires string
		active  int
	)
	err := l.q.QueryRowContext(ctx,
		`SELECT id, code, coin_reward, max_uses, per_user_limit, expires_at, active
		 FROM coupons WHERE code = ?`,
		code,
	).Scan(&c.ID, &c.Code, &c.CoinReward, &c.MaxUses, &c.PerUserLimit, &expires, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrInvalidCoupon
		}
		return domain.Coupon{}, err
	}
	c.Active = active != 0
	c.ExpiresAt, err = parseSQLiteTime(expires)
	if err != nil {
		return domain.Coupon{}, err
	}
	return c, nil
}

func (l sqliteLedger) CountRedemptions(ctx context.Context, couponID string) (int, error) {
	var n int
	err := l.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ?`, couponID,
	).Scan(&n)
	return n, err
}

func (l sqliteLedger) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	err := l.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ? AND user_id = ?`,
		couponID, userID,
	).Scan(&n)
	return n, err
}

func (l sqliteLedger) ListRedeemerIDsByIP(ctx context.Context, couponID, ip string) ([]string, error) {
	rows, err := l.q.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM coupon_redemptions WHERE coupon_id = ? AND ip_address = ?`,
		couponID, ip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteIDs(rows)
}

func (l sqliteLedger) ListRedeemerIDsAnyCouponByIP(ctx context.Context, ip string) ([]string, error) {
	rows, err := l.q.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM coupon_redemptions WHERE ip_address = ?`, ip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteIDs(rows)
}

func scanSQLiteIDs(rows *sql.Rows) ([]string, error) {
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

func (l sqliteLedger) InsertRedemption(ctx context.Context, r domain.CouponRedemption) error {
	_, err := l.q.ExecContext(ctx,
		`INSERT INTO coupon_redemptions (id, coupon_id, user_id, ip_address, redeemed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.CouponID, r.UserID, r.IPAddress, r.RedeemedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (l sqliteLedger) ListUserRedemptions(ctx context.Context, userID string) ([]domain.RedemptionRecord, error) {
	rows, err := l.q.QueryContext(ctx,
		`SELECT c.code, c.coin_reward, r.ip_address, r.redeemed_at
		 FROM coupon_redemptions r
		 JOIN coupons c ON c.id = r.coupon_id
		 WHERE r.user_id = ?
		 ORDER BY r.redeemed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RedemptionRecord
	for rows.Next() {
		var (
			rec domain.RedemptionRecord
			at  string
		)
		if err := rows.Scan(&rec.Code, &rec.CoinReward, &rec.IPAddress, &at); err != nil {
			return nil, err
		}
		rec.RedeemedAt, err = parseSQLiteTime(at)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l sqliteLedger) GetCoinSettings(ctx context.Context) (domain.CoinSettings, error) {
	var cs domain.CoinSettings
	err := l.q.QueryRowContext(ctx,
		`SELECT coins_per_minute FROM coin_settings WHERE id = 1`,
	).Scan(&cs.CoinsPerMinute)
	if err != nil {
		return domain.CoinSettings{}, fmt.Errorf("coin settings: %w", err)
	}
	return cs, nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
