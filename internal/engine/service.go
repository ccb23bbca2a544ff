// Package engine implements the trading engine: constant-product trade
// execution, market lifecycle, redemption settlement, and portfolio
// valuation, plus the HTTP handlers exposing them.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/cpmm"
	"github.com/predictlab/cpmm-engine/internal/metrics"
	"github.com/predictlab/cpmm-engine/internal/model"
	"github.com/predictlab/cpmm-engine/internal/risk"
	"github.com/predictlab/cpmm-engine/internal/slug"
	"github.com/predictlab/cpmm-engine/internal/store"
)

// Service executes trades, drives the market lifecycle, and settles
// redemptions. Per-market mutexes serialize all state transitions on one
// market; the store applies each trade or redemption as a single atomic
// unit. For horizontal scaling, replace the mutexes with database-level
// locking.
type Service struct {
	store            store.Store
	limiter          *risk.Limiter
	hub              *Hub // optional WebSocket hub for real-time broadcasts
	locks            *marketLocks
	defaultLiquidity decimal.Decimal
	startingBalance  decimal.Decimal
}

// Options configures a Service.
type Options struct {
	// DefaultLiquidity seeds each pool when a market is initialized
	// without an explicit liquidity value. Must be positive.
	DefaultLiquidity decimal.Decimal

	// StartingBalance is the cash balance seeded for each new user.
	StartingBalance decimal.Decimal
}

// NewService creates a new trading engine service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *risk.Limiter, hub *Hub, opts Options) *Service {
	if limiter == nil {
		limiter = &risk.Limiter{}
	}
	if opts.DefaultLiquidity.LessThanOrEqual(decimal.Zero) {
		opts.DefaultLiquidity = decimal.NewFromInt(100)
	}
	if opts.StartingBalance.IsNegative() {
		opts.StartingBalance = decimal.Zero
	}
	return &Service{
		store:            st,
		limiter:          limiter,
		hub:              hub,
		locks:            newMarketLocks(),
		defaultLiquidity: opts.DefaultLiquidity,
		startingBalance:  opts.StartingBalance,
	}
}

// TradeResult is returned from a successful buy.
type TradeResult struct {
	SharesBought decimal.Decimal `json:"shares_bought"`
	NewPrice     decimal.Decimal `json:"new_price"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
}

// RedeemResult is returned from a redemption. A zero payout with zero
// shares burned means there was nothing to redeem — not an error.
type RedeemResult struct {
	Payout       decimal.Decimal `json:"payout"`
	SharesBurned decimal.Decimal `json:"shares_burned"`
}

// --- Users ---

// CreateUser creates a user and its cash balance in one transaction.
func (s *Service) CreateUser(ctx context.Context, username string) (*model.User, error) {
	u := &model.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u, s.startingBalance); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	slog.Info("user created", "id", u.ID, "username", username,
		"balance", s.startingBalance.String())
	return u, nil
}

// Balance returns the user's current cash balance.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := s.store.GetBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, ErrUserNotFound
	}
	return bal, err
}

// --- Markets ---

// CreateMarket creates a market and, when liquidity is positive, seeds
// its outcome pools immediately. An empty slug is derived from the title.
// Draft markets must be published before they accept trades.
func (s *Service) CreateMarket(ctx context.Context, title, slugStr, description string, liquidity decimal.Decimal, draft bool) (*model.Market, error) {
	if slugStr == "" {
		derived, err := slug.Make(title)
		if err != nil {
			return nil, err
		}
		slugStr = derived
	}
	if err := slug.Validate(slugStr); err != nil {
		return nil, err
	}

	status := model.StatusOpen
	if draft {
		status = model.StatusDraft
	}

	m := &model.Market{
		ID:          uuid.New().String(),
		Title:       title,
		Slug:        slugStr,
		Description: description,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateMarket(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	if liquidity.IsPositive() {
		if _, err := s.initializePair(ctx, m, liquidity); err != nil {
			return nil, err
		}
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", m.ID,
		"slug", m.Slug,
		"status", m.Status,
		"liquidity", liquidity.String(),
	)
	return m, nil
}

// GetMarket retrieves a market by slug.
func (s *Service) GetMarket(ctx context.Context, slugStr string) (*model.Market, error) {
	m, err := s.store.GetMarketBySlug(ctx, slugStr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMarketNotFound
	}
	return m, err
}

// ListMarkets returns all markets, newest first.
func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.store.ListMarkets(ctx)
}

// Outcomes returns the market's outcome pair, or ErrOutcomeNotFound when
// the market has not been initialized yet.
func (s *Service) Outcomes(ctx context.Context, slugStr string) (*model.OutcomePair, error) {
	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}
	pair, err := s.store.GetOutcomePair(ctx, m.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOutcomeNotFound
	}
	return pair, err
}

// MarketLedger returns all trades for a market in time order.
func (s *Service) MarketLedger(ctx context.Context, slugStr string) ([]model.LedgerEntry, error) {
	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}
	return s.store.GetLedgerByMarket(ctx, m.ID)
}

// PublishMarket transitions a draft market to open.
func (s *Service) PublishMarket(ctx context.Context, slugStr string) (*model.Market, error) {
	return s.transition(ctx, slugStr, model.StatusDraft, model.StatusOpen)
}

// CloseMarket transitions an open market to closed. A closed market
// rejects trades but can still be resolved.
func (s *Service) CloseMarket(ctx context.Context, slugStr string) (*model.Market, error) {
	return s.transition(ctx, slugStr, model.StatusOpen, model.StatusClosed)
}

func (s *Service) transition(ctx context.Context, slugStr, from, to string) (*model.Market, error) {
	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(m.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; status may have moved.
	if m, err = s.GetMarket(ctx, slugStr); err != nil {
		return nil, err
	}
	if m.Status != from {
		return nil, ErrInvalidStatus
	}
	if err := s.store.SetMarketStatus(ctx, m.ID, to); err != nil {
		return nil, err
	}
	m.Status = to
	slog.Info("market status changed", "slug", slugStr, "from", from, "to", to)
	s.broadcastStatus(m)
	return m, nil
}

// InitializeMarket seeds both outcome pools with equal liquidity at price
// 0.5. Idempotent: an already-initialized market is left untouched.
func (s *Service) InitializeMarket(ctx context.Context, slugStr string, liquidity decimal.Decimal) (*model.OutcomePair, error) {
	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(m.ID)
	lock.Lock()
	defer lock.Unlock()

	return s.initializePair(ctx, m, liquidity)
}

// initializePair does the initialization work. Callers hold the market
// lock, or are creating the market and hold the only reference.
func (s *Service) initializePair(ctx context.Context, m *model.Market, liquidity decimal.Decimal) (*model.OutcomePair, error) {
	pair, err := s.store.GetOutcomePair(ctx, m.ID)
	switch {
	case err == nil:
		// Already created; pools are seeded at creation and only ever
		// mutated by trades, so leave them untouched.
		return pair, nil
	case errors.Is(err, store.ErrNotFound):
		// fall through to create
	default:
		return nil, err
	}

	if liquidity.LessThanOrEqual(decimal.Zero) {
		liquidity = s.defaultLiquidity
	}
	if err := cpmm.ValidLiquidity(liquidity); err != nil {
		return nil, ErrInvalidLiquidity
	}

	half := decimal.New(5, -1)
	pair = &model.OutcomePair{
		Yes: model.Outcome{
			ID:           uuid.New().String(),
			MarketID:     m.ID,
			Name:         model.SideYes,
			PoolBalance:  liquidity,
			CurrentPrice: half,
		},
		No: model.Outcome{
			ID:           uuid.New().String(),
			MarketID:     m.ID,
			Name:         model.SideNo,
			PoolBalance:  liquidity,
			CurrentPrice: half,
		},
	}
	if err := s.store.CreateOutcomePair(ctx, pair); err != nil {
		return nil, err
	}

	slog.Info("market initialized", "slug", m.Slug, "liquidity", liquidity.String())
	return pair, nil
}

// --- Trade execution ---

// ExecuteTrade buys `amount` of cash worth of the given side against the
// market's pool. All resulting mutations — both pool balances, both
// prices, the position, the cash debit, and the ledger entry — land as
// one atomic unit or not at all.
func (s *Service) ExecuteTrade(ctx context.Context, userID, slugStr, side string, amount decimal.Decimal) (*TradeResult, error) {
	start := time.Now()

	if err := cpmm.ValidCashAmount(amount); err != nil {
		return nil, ErrInvalidAmount
	}

	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(m.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read pools and status under the lock so two concurrent buys can
	// never price against the same stale snapshot.
	if m, err = s.GetMarket(ctx, slugStr); err != nil {
		return nil, err
	}
	if !m.Tradable() {
		return nil, ErrMarketNotOpen
	}

	// First trade against an uninitialized open market seeds the pools.
	pair, err := s.initializePair(ctx, m, s.defaultLiquidity)
	if err != nil {
		return nil, err
	}

	chosen, other, ok := pair.BySide(side)
	if !ok {
		return nil, ErrOutcomeNotFound
	}

	quote, err := cpmm.Quote(chosen.PoolBalance, other.PoolBalance, amount)
	if err != nil {
		if errors.Is(err, cpmm.ErrInvalidAmount) {
			return nil, ErrInvalidAmount
		}
		return nil, err
	}

	holdings, err := s.store.GetUserHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Check(m.ID, quote.TotalShares, holdings); err != nil {
		metrics.LimitRejections.Inc()
		return nil, err
	}

	newPriceChosen := cpmm.Price(quote.NewPoolSelf, quote.NewPoolOther)
	newPriceOther := cpmm.Price(quote.NewPoolOther, quote.NewPoolSelf)

	commit := store.TradeCommit{
		MarketID: m.ID,
		Chosen: model.Outcome{
			ID:           chosen.ID,
			MarketID:     m.ID,
			Name:         chosen.Name,
			PoolBalance:  quote.NewPoolSelf,
			CurrentPrice: newPriceChosen,
		},
		Other: model.Outcome{
			ID:           other.ID,
			MarketID:     m.ID,
			Name:         other.Name,
			PoolBalance:  quote.NewPoolOther,
			CurrentPrice: newPriceOther,
		},
		UserID:      userID,
		Debit:       amount,
		SharesAdded: quote.TotalShares,
		Entry: model.LedgerEntry{
			ID:        uuid.New().String(),
			UserID:    userID,
			MarketID:  m.ID,
			OutcomeID: chosen.ID,
			Side:      chosen.Name,
			CashIn:    amount,
			Shares:    quote.TotalShares,
			AvgPrice:  quote.AvgPrice,
			NewPrice:  newPriceChosen,
			Timestamp: time.Now().UTC(),
		},
	}

	if err := s.store.ApplyTrade(ctx, commit); err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			return nil, ErrInsufficientFunds
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.TradeVolume.WithLabelValues(m.Slug, side).Add(amount.InexactFloat64())

	slog.Info("trade executed",
		"user", userID,
		"market", m.Slug,
		"side", side,
		"amount", amount.String(),
		"shares", quote.TotalShares.String(),
		"avg_price", quote.AvgPrice.String(),
		"new_price", newPriceChosen.String(),
	)

	if s.hub != nil {
		yesPrice, noPrice := newPriceChosen, newPriceOther
		if side == model.SideNo {
			yesPrice, noPrice = newPriceOther, newPriceChosen
		}
		s.hub.Broadcast(Message{
			Type:     "trade_executed",
			MarketID: m.ID,
			Slug:     m.Slug,
			PriceYes: yesPrice.String(),
			PriceNo:  noPrice.String(),
			Side:     side,
			Amount:   amount.String(),
		})
	}

	return &TradeResult{
		SharesBought: quote.TotalShares,
		NewPrice:     newPriceChosen,
		AvgPrice:     quote.AvgPrice,
	}, nil
}

// --- Resolution & redemption ---

// ResolveMarket sets the winning outcome and moves the market to
// resolved. Legal from any status except resolved itself; a closed
// market can still be resolved.
func (s *Service) ResolveMarket(ctx context.Context, slugStr, winningOutcomeID string) (*model.Market, error) {
	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(m.ID)
	lock.Lock()
	defer lock.Unlock()

	if m, err = s.GetMarket(ctx, slugStr); err != nil {
		return nil, err
	}
	if m.Resolved() {
		return nil, ErrAlreadyResolved
	}

	pair, err := s.store.GetOutcomePair(ctx, m.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidWinningOutcome
		}
		return nil, err
	}
	winner, _, ok := pair.ByID(winningOutcomeID)
	if !ok {
		return nil, ErrInvalidWinningOutcome
	}

	if err := s.store.ResolveMarket(ctx, m.ID, winner.ID); err != nil {
		return nil, err
	}
	m.Status = model.StatusResolved
	m.WinningOutcomeID = winner.ID

	metrics.ResolutionsTotal.Inc()
	metrics.ActiveMarkets.Dec()
	slog.Info("market resolved", "slug", m.Slug, "winner", winner.Name)

	if s.hub != nil {
		s.hub.Broadcast(Message{
			Type:     "market_resolved",
			MarketID: m.ID,
			Slug:     m.Slug,
			Side:     winner.Name,
			Status:   model.StatusResolved,
		})
	}
	return m, nil
}

// RedeemPosition converts the user's winning shares into cash at one cash
// unit per share. A missing or empty position pays zero without error and
// without mutating anything; a second call after a successful redemption
// also pays zero.
func (s *Service) RedeemPosition(ctx context.Context, userID, slugStr string) (*RedeemResult, error) {
	m, err := s.GetMarket(ctx, slugStr)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(m.ID)
	lock.Lock()
	defer lock.Unlock()

	if m, err = s.GetMarket(ctx, slugStr); err != nil {
		return nil, err
	}
	if !m.Resolved() || m.WinningOutcomeID == "" {
		return nil, ErrMarketNotResolved
	}

	pos, err := s.store.GetPosition(ctx, userID, m.WinningOutcomeID)
	if errors.Is(err, store.ErrNotFound) {
		return &RedeemResult{Payout: decimal.Zero, SharesBurned: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	if !pos.Shares.IsPositive() {
		return &RedeemResult{Payout: decimal.Zero, SharesBurned: decimal.Zero}, nil
	}

	// One cash unit per winning share.
	payout := pos.Shares
	if err := s.store.ApplyRedeem(ctx, store.RedeemCommit{
		UserID:    userID,
		OutcomeID: m.WinningOutcomeID,
		Payout:    payout,
	}); err != nil {
		return nil, err
	}

	metrics.RedemptionsTotal.Inc()
	slog.Info("position redeemed",
		"user", userID,
		"market", m.Slug,
		"payout", payout.String(),
	)

	return &RedeemResult{Payout: payout, SharesBurned: payout}, nil
}

// --- Portfolio ---

// Portfolio values the user's positions at current prices and adds cash.
// Read-only; never mutates anything.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	cash, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.GetUserHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := cash
	for i := range holdings {
		holdings[i].Value = holdings[i].Shares.Mul(holdings[i].Price).RoundBank(cpmm.ShareScale)
		total = total.Add(holdings[i].Value)
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	return &model.Portfolio{
		UserID:     userID,
		Cash:       cash,
		Holdings:   holdings,
		TotalValue: total,
	}, nil
}

func (s *Service) broadcastStatus(m *model.Market) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(Message{
		Type:     "market_status",
		MarketID: m.ID,
		Slug:     m.Slug,
		Status:   m.Status,
	})
}
