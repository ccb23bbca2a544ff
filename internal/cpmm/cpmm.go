// Package cpmm implements the constant-product market maker for binary
// outcome markets.
//
// The pool holds a reserve of each outcome; the invariant
//
//	R_yes * R_no = k
//
// is preserved across trades, and the implied probability of an outcome
// is the complement's share of the combined reserves. A buy follows the
// equal-split formulation: the cash stake is conceptually split into
// equal amounts of both outcomes, and the complement half is sold back
// into the pool, so the buyer always receives more shares than cash paid
// while the price is below 1.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Divisions are rounded half-even (banker's rounding) at the stored
// precision, so repeated trading cannot drift the invariant beyond the
// last retained digit.
package cpmm

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// ShareScale is the number of decimal places for pool balances and
	// share quantities.
	ShareScale int32 = 4

	// PriceScale is the number of decimal places for prices.
	PriceScale int32 = 4

	// CashScale is the number of decimal places for cash amounts.
	CashScale int32 = 2
)

var (
	// ErrInvalidAmount is returned when a trade amount is not strictly
	// positive.
	ErrInvalidAmount = errors.New("cpmm: trade amount must be positive")

	// ErrInvalidLiquidity is returned when initial liquidity is not
	// strictly positive.
	ErrInvalidLiquidity = errors.New("cpmm: initial liquidity must be positive")

	// ErrEmptyPool is returned when a quote is requested against a pool
	// that has not been initialized with liquidity.
	ErrEmptyPool = errors.New("cpmm: pool has no liquidity")
)

var half = decimal.New(5, -1)

// Price returns the implied probability of the outcome holding reserve
// rSelf against its complement's reserve rOther:
//
//	price = rOther / (rSelf + rOther)
//
// An uninitialized pool (both reserves zero) prices at exactly 0.5; the
// division-by-zero case never propagates.
func Price(rSelf, rOther decimal.Decimal) decimal.Decimal {
	total := rSelf.Add(rOther)
	if total.IsZero() {
		return half
	}
	return rOther.Div(total).RoundBank(PriceScale)
}

// BuyQuote is the outcome of pricing a buy against the pool. Nothing is
// committed; the caller applies the new reserves and share issuance as a
// single transaction.
type BuyQuote struct {
	NewPoolSelf    decimal.Decimal // reserve of the bought outcome after the trade
	NewPoolOther   decimal.Decimal // reserve of the complement after the trade
	SharesFromPool decimal.Decimal // shares released by the pool
	TotalShares    decimal.Decimal // cash-split shares + SharesFromPool
	AvgPrice       decimal.Decimal // cash / TotalShares
}

// Quote prices a buy of the outcome whose reserve is rSelf with the given
// cash amount, preserving the product invariant:
//
//	k        = rSelf * rOther
//	rOther'  = rOther + cash
//	rSelf'   = k / rOther'        (rounded half-even at ShareScale)
//	fromPool = rSelf - rSelf'
//	total    = cash + fromPool
//
// For any positive cash, rOther' > rOther and therefore rSelf' < rSelf,
// so fromPool is positive and total exceeds the raw cash stake whenever
// the outcome's price is below 1.
func Quote(rSelf, rOther, cash decimal.Decimal) (BuyQuote, error) {
	if cash.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrInvalidAmount
	}
	if !rSelf.IsPositive() || !rOther.IsPositive() {
		return BuyQuote{}, ErrEmptyPool
	}

	k := rSelf.Mul(rOther)
	newOther := rOther.Add(cash)
	newSelf := k.Div(newOther).RoundBank(ShareScale)
	fromPool := rSelf.Sub(newSelf)
	total := cash.Add(fromPool)

	avg := decimal.Zero
	if total.IsPositive() {
		avg = cash.Div(total).RoundBank(PriceScale)
	}

	return BuyQuote{
		NewPoolSelf:    newSelf,
		NewPoolOther:   newOther,
		SharesFromPool: fromPool,
		TotalShares:    total,
		AvgPrice:       avg,
	}, nil
}

// ValidLiquidity reports whether l can seed a market's pools.
func ValidLiquidity(l decimal.Decimal) error {
	if l.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidLiquidity
	}
	return nil
}

// ValidCashAmount checks that amount is positive and carries no more
// than CashScale fractional digits.
func ValidCashAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(CashScale)) {
		return ErrInvalidAmount
	}
	return nil
}
