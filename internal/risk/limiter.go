// Package risk enforces per-user share exposure limits.
//
// The CPMM will quote a trade of any size, so without limits a single
// user can absorb most of a pool and distort prices for everyone else.
// The limiter caps a user's share count per market and their aggregate
// share count across all markets.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
)

var (
	// ErrMarketLimitExceeded is returned when a trade would push the
	// user's shares in one market beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("risk: per-market position limit exceeded")

	// ErrExposureLimitExceeded is returned when a trade would push the
	// user's aggregate shares across all markets beyond the total maximum.
	ErrExposureLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// Limiter enforces position limits. A zero limit disables that check, so
// the zero-value Limiter permits everything.
type Limiter struct {
	// MaxPerMarket is the maximum shares a user may hold in one market,
	// both outcomes combined.
	MaxPerMarket decimal.Decimal

	// MaxTotal is the maximum aggregate shares across all markets.
	MaxTotal decimal.Decimal
}

// NewLimiter creates a limiter with the given per-market and total caps.
func NewLimiter(maxPerMarket, maxTotal decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerMarket: maxPerMarket,
		MaxTotal:     maxTotal,
	}
}

// Check validates whether adding sharesDelta in targetMarket respects the
// limits, given the user's current holdings.
func (l *Limiter) Check(
	targetMarket string,
	sharesDelta decimal.Decimal,
	holdings []model.Holding,
) error {
	inMarket := decimal.Zero
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.Shares)
		if h.MarketID == targetMarket {
			inMarket = inMarket.Add(h.Shares)
		}
	}

	if l.MaxPerMarket.IsPositive() && inMarket.Add(sharesDelta).GreaterThan(l.MaxPerMarket) {
		return ErrMarketLimitExceeded
	}
	if l.MaxTotal.IsPositive() && total.Add(sharesDelta).GreaterThan(l.MaxTotal) {
		return ErrExposureLimitExceeded
	}
	return nil
}
