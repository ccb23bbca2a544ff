// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("store: already exists")

	// ErrInsufficientFunds is returned by ApplyTrade when the debit would
	// drive the user's cash balance negative. The check happens inside the
	// same atomic unit as the debit itself.
	ErrInsufficientFunds = errors.New("store: balance below debit amount")
)

// TradeCommit is the full effect of one executed buy. ApplyTrade lands
// every field or none: both pool balances, both prices, the position
// upsert, the cash debit, and the ledger entry.
type TradeCommit struct {
	MarketID string

	// Chosen carries the traded outcome with its post-trade pool balance
	// and price; Other is the complement, likewise updated.
	Chosen model.Outcome
	Other  model.Outcome

	UserID      string
	Debit       decimal.Decimal // subtracted from the user's cash balance
	SharesAdded decimal.Decimal // added to the (user, chosen outcome) position

	Entry model.LedgerEntry
}

// RedeemCommit zeroes a winning position and credits its payout, as one
// atomic unit.
type RedeemCommit struct {
	UserID    string
	OutcomeID string
	Payout    decimal.Decimal
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users & balances ---

	// CreateUser persists a user and its cash balance row in the same
	// transaction. A user never exists without a balance.
	CreateUser(ctx context.Context, u *model.User, startingCash decimal.Decimal) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetBalance returns the user's current cash balance.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// --- Markets & outcomes ---

	// CreateMarket persists a new market. The slug must be unique.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarketBySlug retrieves a market by its slug.
	GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// SetMarketStatus updates only the market's status.
	SetMarketStatus(ctx context.Context, marketID, status string) error

	// ResolveMarket sets status to resolved and records the winner.
	ResolveMarket(ctx context.Context, marketID, winningOutcomeID string) error

	// CreateOutcomePair persists both outcomes of a market.
	CreateOutcomePair(ctx context.Context, pair *model.OutcomePair) error

	// GetOutcomePair returns the market's two outcomes, or ErrNotFound if
	// the market has not been initialized.
	GetOutcomePair(ctx context.Context, marketID string) (*model.OutcomePair, error)

	// --- Positions & portfolio ---

	// GetPosition returns the user's position on one outcome, or
	// ErrNotFound if no trade has created it yet.
	GetPosition(ctx context.Context, userID, outcomeID string) (*model.Position, error)

	// GetUserHoldings returns the user's positions joined with market and
	// current price. Zero-share positions are included (redeemed history).
	GetUserHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// --- Settlement ---

	// ApplyTrade commits a trade atomically. Returns ErrInsufficientFunds
	// without any mutation when the balance cannot cover the debit.
	ApplyTrade(ctx context.Context, commit TradeCommit) error

	// ApplyRedeem zeroes the position and credits the payout atomically.
	ApplyRedeem(ctx context.Context, commit RedeemCommit) error

	// --- Immutable ledger ---

	// GetLedgerByMarket returns all trades for a market in time order.
	GetLedgerByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)
}
