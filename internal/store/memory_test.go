package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedMarket(t *testing.T, s *MemoryStore) (*model.Market, *model.OutcomePair) {
	t.Helper()
	ctx := context.Background()
	m := &model.Market{
		ID:        "m1",
		Title:     "Test market",
		Slug:      "test-market",
		Status:    model.StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	pair := &model.OutcomePair{
		Yes: model.Outcome{ID: "o-yes", MarketID: m.ID, Name: model.SideYes, PoolBalance: dec("100"), CurrentPrice: dec("0.5")},
		No:  model.Outcome{ID: "o-no", MarketID: m.ID, Name: model.SideNo, PoolBalance: dec("100"), CurrentPrice: dec("0.5")},
	}
	if err := s.CreateOutcomePair(ctx, pair); err != nil {
		t.Fatalf("CreateOutcomePair: %v", err)
	}
	return m, pair
}

func seedUser(t *testing.T, s *MemoryStore, id string, cash string) {
	t.Helper()
	u := &model.User{ID: id, Username: id, CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(context.Background(), u, dec(cash)); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func tradeCommit(m *model.Market, pair *model.OutcomePair, userID string) TradeCommit {
	return TradeCommit{
		MarketID: m.ID,
		Chosen: model.Outcome{
			ID: pair.Yes.ID, MarketID: m.ID, Name: model.SideYes,
			PoolBalance: dec("90.9091"), CurrentPrice: dec("0.5475"),
		},
		Other: model.Outcome{
			ID: pair.No.ID, MarketID: m.ID, Name: model.SideNo,
			PoolBalance: dec("110"), CurrentPrice: dec("0.4525"),
		},
		UserID:      userID,
		Debit:       dec("10"),
		SharesAdded: dec("19.0909"),
		Entry: model.LedgerEntry{
			ID: "e1", UserID: userID, MarketID: m.ID, OutcomeID: pair.Yes.ID,
			Side: model.SideYes, CashIn: dec("10"), Shares: dec("19.0909"),
			AvgPrice: dec("0.5238"), NewPrice: dec("0.5475"),
			Timestamp: time.Now().UTC(),
		},
	}
}

func TestCreateUserSeedsBalanceAtomically(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "1000")

	bal, err := s.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Equal(dec("1000")) {
		t.Errorf("balance = %s, want 1000", bal)
	}

	// Same username again is a duplicate; nothing extra is created.
	err = s.CreateUser(ctx, &model.User{ID: "u2", Username: "u1"}, dec("1000"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if _, err := s.GetBalance(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("balance for rejected user exists")
	}
}

func TestApplyTrade(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, pair := seedMarket(t, s)
	seedUser(t, s, "u1", "1000")

	if err := s.ApplyTrade(ctx, tradeCommit(m, pair, "u1")); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	bal, _ := s.GetBalance(ctx, "u1")
	if !bal.Equal(dec("990")) {
		t.Errorf("balance = %s, want 990", bal)
	}
	got, _ := s.GetOutcomePair(ctx, m.ID)
	if !got.Yes.PoolBalance.Equal(dec("90.9091")) || !got.No.PoolBalance.Equal(dec("110")) {
		t.Errorf("pools = %s / %s", got.Yes.PoolBalance, got.No.PoolBalance)
	}
	pos, err := s.GetPosition(ctx, "u1", pair.Yes.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !pos.Shares.Equal(dec("19.0909")) {
		t.Errorf("shares = %s, want 19.0909", pos.Shares)
	}
	entries, _ := s.GetLedgerByMarket(ctx, m.ID)
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}
}

func TestApplyTradeAccumulatesPosition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, pair := seedMarket(t, s)
	seedUser(t, s, "u1", "1000")

	for i := 0; i < 2; i++ {
		if err := s.ApplyTrade(ctx, tradeCommit(m, pair, "u1")); err != nil {
			t.Fatalf("ApplyTrade #%d: %v", i, err)
		}
	}
	pos, _ := s.GetPosition(ctx, "u1", pair.Yes.ID)
	if !pos.Shares.Equal(dec("38.1818")) {
		t.Errorf("shares = %s, want 38.1818", pos.Shares)
	}
}

func TestApplyTradeInsufficientFundsMutatesNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, pair := seedMarket(t, s)
	seedUser(t, s, "u1", "5")

	err := s.ApplyTrade(ctx, tradeCommit(m, pair, "u1"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	bal, _ := s.GetBalance(ctx, "u1")
	if !bal.Equal(dec("5")) {
		t.Errorf("balance = %s, want 5", bal)
	}
	got, _ := s.GetOutcomePair(ctx, m.ID)
	if !got.Yes.PoolBalance.Equal(dec("100")) || !got.No.PoolBalance.Equal(dec("100")) {
		t.Errorf("pools mutated: %s / %s", got.Yes.PoolBalance, got.No.PoolBalance)
	}
	if _, err := s.GetPosition(ctx, "u1", pair.Yes.ID); !errors.Is(err, ErrNotFound) {
		t.Error("position created on failed trade")
	}
	entries, _ := s.GetLedgerByMarket(ctx, m.ID)
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
}

func TestApplyTradeUnknownUser(t *testing.T) {
	s := NewMemoryStore()
	m, pair := seedMarket(t, s)

	err := s.ApplyTrade(context.Background(), tradeCommit(m, pair, "ghost"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyRedeem(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, pair := seedMarket(t, s)
	seedUser(t, s, "u1", "1000")
	if err := s.ApplyTrade(ctx, tradeCommit(m, pair, "u1")); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	err := s.ApplyRedeem(ctx, RedeemCommit{UserID: "u1", OutcomeID: pair.Yes.ID, Payout: dec("19.0909")})
	if err != nil {
		t.Fatalf("ApplyRedeem: %v", err)
	}

	bal, _ := s.GetBalance(ctx, "u1")
	if !bal.Equal(dec("1009.0909")) {
		t.Errorf("balance = %s, want 1009.0909", bal)
	}
	pos, _ := s.GetPosition(ctx, "u1", pair.Yes.ID)
	if !pos.Shares.IsZero() {
		t.Errorf("shares = %s, want 0 after redeem", pos.Shares)
	}
}

func TestResolveMarket(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, pair := seedMarket(t, s)

	if err := s.ResolveMarket(ctx, m.ID, pair.Yes.ID); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	got, _ := s.GetMarketBySlug(ctx, m.Slug)
	if got.Status != model.StatusResolved || got.WinningOutcomeID != pair.Yes.ID {
		t.Errorf("market = %q/%q", got.Status, got.WinningOutcomeID)
	}
}

func TestGetUserHoldings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, pair := seedMarket(t, s)
	seedUser(t, s, "u1", "1000")
	if err := s.ApplyTrade(ctx, tradeCommit(m, pair, "u1")); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	holdings, err := s.GetUserHoldings(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserHoldings: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(holdings))
	}
	h := holdings[0]
	if h.MarketSlug != m.Slug || h.Side != model.SideYes {
		t.Errorf("holding = %s/%s", h.MarketSlug, h.Side)
	}
	if !h.Shares.Equal(dec("19.0909")) || !h.Price.Equal(dec("0.5475")) {
		t.Errorf("holding shares/price = %s/%s", h.Shares, h.Price)
	}
}

func TestGetMarketCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, _ := seedMarket(t, s)

	got, _ := s.GetMarketBySlug(ctx, m.Slug)
	got.Status = model.StatusResolved

	// Mutating the returned copy must not touch the stored market.
	again, _ := s.GetMarketBySlug(ctx, m.Slug)
	if again.Status != model.StatusOpen {
		t.Errorf("stored market mutated through a returned copy")
	}
}
