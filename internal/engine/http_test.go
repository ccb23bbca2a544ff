package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/predictlab/cpmm-engine/internal/model"
	"github.com/predictlab/cpmm-engine/internal/store"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	svc := NewService(store.NewMemoryStore(), nil, nil, Options{
		DefaultLiquidity: dec("100"),
		StartingBalance:  dec("1000"),
	})

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", svc.HandleCreateUser)
		r.Get("/users/{userID}/balance", svc.HandleGetBalance)
		r.Get("/markets", svc.HandleListMarkets)
		r.Post("/markets", svc.HandleCreateMarket)
		r.Get("/markets/{slug}", svc.HandleGetMarket)
		r.Get("/markets/{slug}/price", svc.HandleGetPrice)
		r.Get("/markets/{slug}/ledger", svc.HandleGetLedger)
		r.Post("/markets/{slug}/publish", svc.HandlePublishMarket)
		r.Post("/markets/{slug}/close", svc.HandleCloseMarket)
		r.Post("/markets/{slug}/trade", svc.HandleTrade)
		r.Post("/markets/{slug}/resolve", svc.HandleResolve)
		r.Post("/markets/{slug}/redeem", svc.HandleRedeem)
		r.Get("/portfolio/{userID}", svc.HandleGetPortfolio)
	})
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestHTTPCreateUserAndBalance(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/users", CreateUserRequest{Username: "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: status = %d, body %s", w.Code, w.Body)
	}
	u := decodeBody[model.User](t, w)
	if u.ID == "" || u.Username != "alice" {
		t.Fatalf("user = %+v", u)
	}

	w = doJSON(t, r, "GET", "/api/v1/users/"+u.ID+"/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance: status = %d", w.Code)
	}
	bal := decodeBody[map[string]string](t, w)
	if bal["balance"] != "1000" {
		t.Errorf("balance = %q, want 1000", bal["balance"])
	}

	// Missing username is a 400, unknown user a 404.
	if w := doJSON(t, r, "POST", "/api/v1/users", CreateUserRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty username: status = %d, want 400", w.Code)
	}
	if w := doJSON(t, r, "GET", "/api/v1/users/ghost/balance", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", w.Code)
	}
}

func TestHTTPMarketAndTradeFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/users", CreateUserRequest{Username: "bob"})
	u := decodeBody[model.User](t, w)

	w = doJSON(t, r, "POST", "/api/v1/markets", map[string]any{
		"title":     "Will the launch succeed",
		"liquidity": "100",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: status = %d, body %s", w.Code, w.Body)
	}
	m := decodeBody[model.Market](t, w)
	if m.Slug != "will-the-launch-succeed" || m.Status != model.StatusOpen {
		t.Fatalf("market = %+v", m)
	}

	w = doJSON(t, r, "GET", "/api/v1/markets/"+m.Slug+"/price", nil)
	prices := decodeBody[map[string]string](t, w)
	if prices["yes"] != "0.5" || prices["no"] != "0.5" {
		t.Errorf("prices = %v", prices)
	}

	w = doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/trade", map[string]any{
		"user_id": u.ID,
		"side":    "YES",
		"amount":  "10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("trade: status = %d, body %s", w.Code, w.Body)
	}
	result := decodeBody[TradeResult](t, w)
	if !result.SharesBought.Equal(dec("19.0909")) {
		t.Errorf("shares = %s, want 19.0909", result.SharesBought)
	}

	w = doJSON(t, r, "GET", "/api/v1/markets/"+m.Slug+"/ledger", nil)
	entries := decodeBody[[]model.LedgerEntry](t, w)
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}

	w = doJSON(t, r, "GET", "/api/v1/portfolio/"+u.ID, nil)
	p := decodeBody[model.Portfolio](t, w)
	if !p.Cash.Equal(dec("990")) || len(p.Holdings) != 1 {
		t.Errorf("portfolio = cash %s, %d holdings", p.Cash, len(p.Holdings))
	}
}

func TestHTTPErrorStatuses(t *testing.T) {
	r, svc := newTestRouter(t)
	ctx := context.Background()

	u := mustUser(t, svc, "carol")
	m := mustMarket(t, svc, "Status mapping", "100")

	// Insufficient funds maps to 402.
	w := doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/trade", map[string]any{
		"user_id": u.ID, "side": "YES", "amount": "5000",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("overdraft: status = %d, want 402", w.Code)
	}

	// Invalid amount maps to 400.
	w = doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/trade", map[string]any{
		"user_id": u.ID, "side": "YES", "amount": "-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative amount: status = %d, want 400", w.Code)
	}

	// Unknown market maps to 404.
	w = doJSON(t, r, "GET", "/api/v1/markets/no-such-market", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown market: status = %d, want 404", w.Code)
	}

	// Redeeming an unresolved market maps to 409.
	w = doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/redeem", map[string]any{"user_id": u.ID})
	if w.Code != http.StatusConflict {
		t.Errorf("premature redeem: status = %d, want 409", w.Code)
	}

	// Publishing an already-open market maps to 409.
	w = doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/publish", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("publish open market: status = %d, want 409", w.Code)
	}

	// Resolve, then check the conflict on double resolution.
	pair, err := svc.Outcomes(ctx, m.Slug)
	if err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/resolve", ResolveRequest{WinningOutcomeID: pair.Yes.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body %s", w.Code, w.Body)
	}
	w = doJSON(t, r, "POST", "/api/v1/markets/"+m.Slug+"/resolve", ResolveRequest{WinningOutcomeID: pair.Yes.ID})
	if w.Code != http.StatusConflict {
		t.Errorf("double resolve: status = %d, want 409", w.Code)
	}
}
