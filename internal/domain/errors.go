package domain

import "fmt"

// Error is an expected, user-facing failure. Code is stable across releases
// and Status is the HTTP class the delivery layer should answer with.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidCoupon       = &Error{Code: "INVALID_COUPON", Status: 400, Message: "coupon is invalid"}
	ErrExpiredCoupon       = &Error{Code: "EXPIRED_COUPON", Status: 400, Message: "coupon is expired"}
	ErrMaxUsesReached      = &Error{Code: "MAX_USES_REACHED", Status: 400, Message: "coupon max uses reached"}
	ErrPerUserLimitReached = &Error{Code: "PER_USER_LIMIT_REACHED", Status: 400, Message: "coupon limit reached for this user"}
	ErrIPAlreadyRedeemed   = &Error{Code: "IP_ALREADY_REDEEMED", Status: 400, Message: "coupon already redeemed from this ip"}
	ErrAdblockRequired     = &Error{Code: "ADBLOCK_REQUIRED", Status: 400, Message: "disable adblock to earn coins"}
	ErrUserNotFound        = &Error{Code: "USER_NOT_FOUND", Status: 404, Message: "user not found"}
	ErrInsufficientCoins   = &Error{Code: "INSUFFICIENT_COINS", Status: 400, Message: "insufficient coins"}
	ErrDuplicateCoupon     = &Error{Code: "DUPLICATE_COUPON", Status: 409, Message: "coupon already exists"}

	// ErrBusy is returned when a caller times out waiting for the ledger's
	// write lock. Unlike the domain errors above it is safe to retry.
	ErrBusy = &Error{Code: "BUSY", Status: 503, Message: "ledger busy, retry"}
)

// CooldownError rejects an AFK claim inside the cooldown window. WaitSeconds
// is always in [1, 60] and maps to a Retry-After for the caller.
type CooldownError struct {
	WaitSeconds int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("claim cooldown: retry in %ds", e.WaitSeconds)
}
