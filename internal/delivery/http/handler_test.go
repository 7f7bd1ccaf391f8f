package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Luffy998899/Astra/internal/domain"
	"github.com/Luffy998899/Astra/internal/repository"
	"github.com/Luffy998899/Astra/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newTestServer(t *testing.T) (*httptest.Server, *repository.SQLiteStore) {
	t.Helper()
	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(usecase.NewCouponService(store, nil), usecase.NewCoinService(store))

	r := chi.NewRouter()
	handler.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func seedUser(t *testing.T, store repository.Store, id string) {
	t.Helper()
	if err := store.CreateUser(context.Background(), domain.User{ID: id, Username: id}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedCoupon(t *testing.T, store repository.Store, code string, reward int64) {
	t.Helper()
	_, err := store.CreateCoupon(context.Background(), domain.Coupon{
		ID:           uuid.NewString(),
		Code:         code,
		CoinReward:   reward,
		MaxUses:      100,
		PerUserLimit: 1,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRedeemCoupon_Success(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")
	seedCoupon(t, store, "WELCOME10", 10)

	resp := postJSON(t, srv.URL+"/api/coupons/redeem",
		RedeemRequest{UserID: "user-a", Code: "welcome10"},
		map[string]string{"X-Forwarded-For": "1.1.1.1"},
	)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[RedeemResponse](t, resp)
	if body.Reward != 10 {
		t.Fatalf("expected reward 10, got %d", body.Reward)
	}

	user, _ := store.GetUser(context.Background(), "user-a")
	if user.Coins != 10 {
		t.Fatalf("expected 10 coins credited, got %d", user.Coins)
	}
}

func TestRedeemCoupon_ValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/coupons/redeem", RedeemRequest{UserID: "", Code: "AB"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRedeemCoupon_UnknownCode(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")

	resp := postJSON(t, srv.URL+"/api/coupons/redeem", RedeemRequest{UserID: "user-a", Code: "NOPE99"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Code != "INVALID_COUPON" {
		t.Fatalf("expected INVALID_COUPON, got %q", body.Code)
	}
}

func TestRedeemCoupon_SharedIPDenied(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")
	seedUser(t, store, "user-b")
	seedCoupon(t, store, "WELCOME10", 10)

	headers := map[string]string{"X-Forwarded-For": "1.1.1.1"}

	resp := postJSON(t, srv.URL+"/api/coupons/redeem", RedeemRequest{UserID: "user-a", Code: "WELCOME10"}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first redemption: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/coupons/redeem", RedeemRequest{UserID: "user-b", Code: "WELCOME10"}, headers)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Code != "IP_ALREADY_REDEEMED" {
		t.Fatalf("expected IP_ALREADY_REDEEMED, got %q", body.Code)
	}

	for _, id := range []string{"user-a", "user-b"} {
		user, _ := store.GetUser(context.Background(), id)
		if !user.Flagged {
			t.Fatalf("expected %s flagged", id)
		}
	}
}

func TestClaimCoins_CooldownResponse(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")

	resp := postJSON(t, srv.URL+"/api/coins/claim", ClaimRequest{UserID: "user-a"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first claim: expected 200, got %d", resp.StatusCode)
	}
	first := decode[ClaimResponse](t, resp)
	if first.Earned != 1 {
		t.Fatalf("expected 1 coin from seeded settings, got %d", first.Earned)
	}

	resp = postJSON(t, srv.URL+"/api/coins/claim", ClaimRequest{UserID: "user-a"}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.WaitSeconds < 1 || body.WaitSeconds > 60 {
		t.Fatalf("wait_seconds out of range: %d", body.WaitSeconds)
	}
}

func TestClaimCoins_AdblockRejected(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")

	resp := postJSON(t, srv.URL+"/api/coins/claim", ClaimRequest{UserID: "user-a", AdblockDetected: true}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Code != "ADBLOCK_REQUIRED" {
		t.Fatalf("expected ADBLOCK_REQUIRED, got %q", body.Code)
	}
}

func TestBalance(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")
	seedCoupon(t, store, "WELCOME10", 10)

	resp := postJSON(t, srv.URL+"/api/coupons/redeem", RedeemRequest{UserID: "user-a", Code: "WELCOME10"}, nil)
	resp.Body.Close()

	getResp, err := http.Get(srv.URL + "/api/coins/balance/user-a")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
	body := decode[BalanceResponse](t, getResp)
	if body.Coins != 10 {
		t.Fatalf("expected 10 coins, got %d", body.Coins)
	}
}

func TestBalance_UnknownUser(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/coins/balance/ghost")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRedemptionHistory(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "user-a")
	seedCoupon(t, store, "WELCOME10", 10)

	resp := postJSON(t, srv.URL+"/api/coupons/redeem", RedeemRequest{UserID: "user-a", Code: "WELCOME10"}, nil)
	resp.Body.Close()

	getResp, err := http.Get(srv.URL + "/api/coupons/history/user-a")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
	records := decode[[]RedemptionResponse](t, getResp)
	if len(records) != 1 || records[0].Code != "WELCOME10" {
		t.Fatalf("unexpected history: %+v", records)
	}
}

func TestCreateCoupon_AdminSurface(t *testing.T) {
	srv, _ := newTestServer(t)

	req := CreateCouponRequest{
		Code:         "spring20",
		CoinReward:   20,
		MaxUses:      50,
		PerUserLimit: 1,
		ExpiresAt:    time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	}

	resp := postJSON(t, srv.URL+"/api/admin/coupons", req, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["code"] != "SPRING20" {
		t.Fatalf("expected upper-cased code, got %q", body["code"])
	}

	resp = postJSON(t, srv.URL+"/api/admin/coupons", req, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
