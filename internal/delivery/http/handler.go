package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
	"github.com/Luffy998899/Astra/internal/usecase"
	"github.com/go-chi/chi/v5"
)

type RedeemRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

type RedeemResponse struct {
	Reward int64 `json:"reward"`
}

type ClaimRequest struct {
	UserID          string `json:"user_id"`
	AdblockDetected bool   `json:"adblock_detected"`
}

type ClaimResponse struct {
	Earned int64 `json:"earned"`
}

type BalanceResponse struct {
	Coins         int64      `json:"coins"`
	Balance       float64    `json:"balance"`
	Flagged       bool       `json:"flagged"`
	LastClaimTime *time.Time `json:"last_claim_time"`
}

type CreateCouponRequest struct {
	Code         string `json:"code"`
	CoinReward   int64  `json:"coin_reward"`
	MaxUses      int    `json:"max_uses"`
	PerUserLimit int    `json:"per_user_limit"`
	ExpiresAt    string `json:"expires_at"`
	Active       *bool  `json:"active"`
}

type RedemptionResponse struct {
	Code       string    `json:"code"`
	CoinReward int64     `json:"coin_reward"`
	IPAddress  string    `json:"ip_address"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

// Handler fronts the economy services. It trusts the user identity in the
// request body; the real panel resolves it from the session upstream.
type Handler struct {
	coupons *usecase.CouponService
	coins   *usecase.CoinService
}

func NewHandler(coupons *usecase.CouponService, coins *usecase.CoinService) *Handler {
	return &Handler{coupons: coupons, coins: coins}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/coupons/redeem", h.RedeemCoupon)
		r.Get("/coupons/history/{userID}", h.RedemptionHistory)
		r.Post("/coins/claim", h.ClaimCoins)
		r.Get("/coins/balance/{userID}", h.Balance)
		r.Post("/admin/coupons", h.CreateCoupon)
	})
}

func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if req.UserID == "" || len(req.Code) < 3 {
		writeValidation(w, "user_id and a code of at least 3 characters are required")
		return
	}

	reward, err := h.coupons.Redeem(r.Context(), strings.ToUpper(req.Code), req.UserID, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{Reward: reward})
}

func (h *Handler) ClaimCoins(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeValidation(w, "user_id is required")
		return
	}

	earned, err := h.coins.Claim(r.Context(), req.UserID, req.AdblockDetected)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{Earned: earned})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	user, err := h.coins.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Coins:         user.Coins,
		Balance:       user.Balance,
		Flagged:       user.Flagged,
		LastClaimTime: user.LastClaimTime,
	})
}

func (h *Handler) RedemptionHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.coupons.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]RedemptionResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, RedemptionResponse{
			Code:       rec.Code,
			CoinReward: rec.CoinReward,
			IPAddress:  rec.IPAddress,
			RedeemedAt: rec.RedeemedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if len(req.Code) < 3 || req.CoinReward <= 0 || req.MaxUses < 0 || req.PerUserLimit < 1 {
		writeValidation(w, "code (min 3 chars), positive coin_reward, max_uses >= 0 and per_user_limit >= 1 are required")
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		writeValidation(w, "expires_at must be RFC3339")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	coupon, err := h.coupons.CreateCoupon(r.Context(), domain.Coupon{
		Code:         strings.ToUpper(req.Code),
		CoinReward:   req.CoinReward,
		MaxUses:      req.MaxUses,
		PerUserLimit: req.PerUserLimit,
		ExpiresAt:    expiresAt,
		Active:       active,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": coupon.ID, "code": coupon.Code})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation failed: " + msg})
}

// writeError maps domain errors to their status class, cooldowns to 429 with
// a retry hint, and everything unexpected to an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var cooldown *domain.CooldownError
	if errors.As(err, &cooldown) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:       "Cooldown",
			Code:        "COOLDOWN_ACTIVE",
			WaitSeconds: cooldown.WaitSeconds,
		})
		return
	}

	var de *domain.Error
	if errors.As(err, &de) {
		if errors.Is(err, domain.ErrBusy) {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, de.Status, errorResponse{Error: de.Message, Code: de.Code})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}
