package engine

import "errors"

// Typed errors returned by the engine. Every precondition failure is
// detected before — or atomically with — any ledger mutation, so a
// returned error always means nothing changed.
var (
	// ErrInvalidAmount is returned for a non-positive trade amount or one
	// with more than two fractional digits.
	ErrInvalidAmount = errors.New("engine: invalid trade amount")

	// ErrInsufficientFunds is returned when the user's cash balance cannot
	// cover the trade amount. The check shares the atomic unit with the
	// debit itself.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrMarketNotFound is returned for an unknown market slug.
	ErrMarketNotFound = errors.New("engine: market not found")

	// ErrOutcomeNotFound is returned when an outcome reference does not
	// belong to the market.
	ErrOutcomeNotFound = errors.New("engine: outcome not found")

	// ErrUserNotFound is returned for an unknown user ID.
	ErrUserNotFound = errors.New("engine: user not found")

	// ErrMarketNotOpen is returned for a trade against a market that is
	// not in the open state.
	ErrMarketNotOpen = errors.New("engine: market is not open for trading")

	// ErrMarketNotResolved is returned for a redemption before resolution.
	ErrMarketNotResolved = errors.New("engine: market is not resolved")

	// ErrAlreadyResolved is returned for a second resolve attempt.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrInvalidWinningOutcome is returned when the resolving outcome does
	// not belong to the market.
	ErrInvalidWinningOutcome = errors.New("engine: winning outcome does not belong to market")

	// ErrInvalidLiquidity is returned when initial liquidity is not
	// strictly positive.
	ErrInvalidLiquidity = errors.New("engine: initial liquidity must be positive")

	// ErrInvalidStatus is returned for an illegal lifecycle transition,
	// such as publishing a market that is not a draft.
	ErrInvalidStatus = errors.New("engine: invalid market status transition")

	// ErrDuplicate is returned when a slug or username is already taken.
	ErrDuplicate = errors.New("engine: already exists")
)
