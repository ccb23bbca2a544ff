// Package model defines the core domain types shared across the trading
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market statuses. A market moves draft → open → resolved; an open market
// may be closed first, which blocks trading but still permits resolution.
const (
	StatusDraft    = "draft"
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// Outcome sides of a binary market.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Market is a binary-outcome prediction market traded against the
// constant-product pool.
type Market struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Slug        string `json:"slug" db:"slug"`
	Description string `json:"description" db:"description"`
	Status      string `json:"status" db:"status"`

	// WinningOutcomeID is non-empty iff Status == StatusResolved, and
	// always references one of the market's own two outcomes.
	WinningOutcomeID string `json:"winning_outcome_id,omitempty" db:"winning_outcome_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Tradable reports whether the market accepts trades.
func (m *Market) Tradable() bool { return m.Status == StatusOpen }

// Resolved reports whether the market has a winning outcome.
func (m *Market) Resolved() bool { return m.Status == StatusResolved }

// Outcome is one side of a binary market. PoolBalance is the reserve held
// by the market maker; CurrentPrice is the implied probability in [0, 1].
type Outcome struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	Name         string          `json:"name" db:"name"` // SideYes or SideNo
	PoolBalance  decimal.Decimal `json:"pool_balance" db:"pool_balance"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
}

// OutcomePair is the two outcomes of one market. The engine only ever
// handles exactly two outcomes, so the pair is a fixed-size type rather
// than a slice.
type OutcomePair struct {
	Yes Outcome `json:"yes"`
	No  Outcome `json:"no"`
}

// Initialized reports whether both pools carry liquidity.
func (p *OutcomePair) Initialized() bool {
	return p.Yes.PoolBalance.IsPositive() && p.No.PoolBalance.IsPositive()
}

// BySide returns the outcome matching side and its complement.
func (p *OutcomePair) BySide(side string) (chosen, other *Outcome, ok bool) {
	switch side {
	case SideYes:
		return &p.Yes, &p.No, true
	case SideNo:
		return &p.No, &p.Yes, true
	}
	return nil, nil, false
}

// ByID returns the outcome with the given ID and its complement.
func (p *OutcomePair) ByID(id string) (chosen, other *Outcome, ok bool) {
	switch id {
	case p.Yes.ID:
		return &p.Yes, &p.No, true
	case p.No.ID:
		return &p.No, &p.Yes, true
	}
	return nil, nil, false
}

// User is a trader. Its cash balance lives in a separate balance row that
// is always created with the user, in the same transaction.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Position holds a user's shares in one outcome. Unique per
// (user, outcome); created lazily on first trade and zeroed — not
// deleted — on redemption.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	OutcomeID string          `json:"outcome_id" db:"outcome_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
}

// LedgerEntry is an immutable record of a trade execution. Once created,
// these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	OutcomeID string          `json:"outcome_id" db:"outcome_id"`
	Side      string          `json:"side" db:"side"`
	CashIn    decimal.Decimal `json:"cash_in" db:"cash_in"`     // collateral paid
	Shares    decimal.Decimal `json:"shares" db:"shares"`       // shares issued
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"` // cash_in / shares
	NewPrice  decimal.Decimal `json:"new_price" db:"new_price"` // outcome price after trade
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Holding is one row of a user's portfolio: a position joined with its
// market and priced at the current market price.
type Holding struct {
	MarketID   string          `json:"market_id"`
	MarketSlug string          `json:"market_slug"`
	OutcomeID  string          `json:"outcome_id"`
	Side       string          `json:"side"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"` // shares * price
}

// Portfolio is the read-only valuation of a user's positions plus cash.
type Portfolio struct {
	UserID     string          `json:"user_id"`
	Cash       decimal.Decimal `json:"cash"`
	Holdings   []Holding       `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value"` // cash + Σ holding values
}
