package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users & balances ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User, startingCash decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)`,
		u.ID, u.Username, u.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	// Balance row is created with the user, never as a separate step.
	if _, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, cash) VALUES ($1, $2::NUMERIC)`,
		u.ID, startingCash.String(),
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT FROM balances WHERE user_id = $1`, userID).
		Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", userID, err)
	}
	bal, _ := decimal.NewFromString(cash)
	return bal, nil
}

// --- Markets & outcomes ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, slug, description, status, winning_outcome_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		m.ID, m.Title, m.Slug, m.Description, m.Status, m.WinningOutcomeID, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error) {
	var m model.Market
	var winner *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, title, slug, description, status, winning_outcome_id, created_at
		 FROM markets WHERE slug = $1`, slug).
		Scan(&m.ID, &m.Title, &m.Slug, &m.Description, &m.Status, &winner, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", slug, err)
	}
	if winner != nil {
		m.WinningOutcomeID = *winner
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, slug, description, status, winning_outcome_id, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		var winner *string
		if err := rows.Scan(&m.ID, &m.Title, &m.Slug, &m.Description,
			&m.Status, &winner, &m.CreatedAt); err != nil {
			return nil, err
		}
		if winner != nil {
			m.WinningOutcomeID = *winner
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SetMarketStatus(ctx context.Context, marketID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, marketID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResolveMarket(ctx context.Context, marketID, winningOutcomeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, winning_outcome_id = $3 WHERE id = $1`,
		marketID, model.StatusResolved, winningOutcomeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateOutcomePair(ctx context.Context, pair *model.OutcomePair) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, o := range []*model.Outcome{&pair.Yes, &pair.No} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO outcomes (id, market_id, name, pool_balance, current_price)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			o.ID, o.MarketID, o.Name, o.PoolBalance.String(), o.CurrentPrice.String(),
		); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOutcomePair(ctx context.Context, marketID string) (*model.OutcomePair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, name, pool_balance::TEXT, current_price::TEXT
		 FROM outcomes WHERE market_id = $1 ORDER BY name DESC`, marketID) // YES before NO
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pair model.OutcomePair
	var count int
	for rows.Next() {
		var o model.Outcome
		var pool, price string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Name, &pool, &price); err != nil {
			return nil, err
		}
		o.PoolBalance, _ = decimal.NewFromString(pool)
		o.CurrentPrice, _ = decimal.NewFromString(price)
		switch o.Name {
		case model.SideYes:
			pair.Yes = o
		case model.SideNo:
			pair.No = o
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count < 2 {
		return nil, ErrNotFound
	}
	return &pair, nil
}

// --- Positions & portfolio ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, outcomeID string) (*model.Position, error) {
	var p model.Position
	var shares string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, outcome_id, market_id, shares::TEXT
		 FROM positions WHERE user_id = $1 AND outcome_id = $2`, userID, outcomeID).
		Scan(&p.UserID, &p.OutcomeID, &p.MarketID, &shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, outcomeID, err)
	}
	p.Shares, _ = decimal.NewFromString(shares)
	return &p, nil
}

func (s *PostgresStore) GetUserHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.market_id, m.slug, p.outcome_id, o.name,
		        p.shares::TEXT, o.current_price::TEXT
		 FROM positions p
		 JOIN outcomes o ON o.id = p.outcome_id
		 JOIN markets m ON m.id = p.market_id
		 WHERE p.user_id = $1
		 ORDER BY m.slug, o.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var shares, price string
		if err := rows.Scan(&h.MarketID, &h.MarketSlug, &h.OutcomeID, &h.Side,
			&shares, &price); err != nil {
			return nil, err
		}
		h.Shares, _ = decimal.NewFromString(shares)
		h.Price, _ = decimal.NewFromString(price)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// --- Settlement ---

// ApplyTrade lands the whole trade in one transaction. The balance debit
// is conditional on sufficiency inside the same UPDATE, so a concurrent
// trade can never overdraw the balance between check and debit.
func (s *PostgresStore) ApplyTrade(ctx context.Context, commit TradeCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE balances SET cash = cash - $2::NUMERIC
		 WHERE user_id = $1 AND cash >= $2::NUMERIC`,
		commit.UserID, commit.Debit.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM balances WHERE user_id = $1)`,
			commit.UserID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientFunds
	}

	for _, o := range []model.Outcome{commit.Chosen, commit.Other} {
		if _, err := tx.Exec(ctx,
			`UPDATE outcomes SET pool_balance = $2::NUMERIC, current_price = $3::NUMERIC
			 WHERE id = $1`,
			o.ID, o.PoolBalance.String(), o.CurrentPrice.String(),
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, outcome_id, market_id, shares)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (user_id, outcome_id)
		 DO UPDATE SET shares = positions.shares + EXCLUDED.shares`,
		commit.UserID, commit.Chosen.ID, commit.MarketID, commit.SharesAdded.String(),
	); err != nil {
		return err
	}

	e := commit.Entry
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, market_id, outcome_id, side, cash_in, shares, avg_price, new_price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		e.ID, e.UserID, e.MarketID, e.OutcomeID, e.Side,
		e.CashIn.String(), e.Shares.String(), e.AvgPrice.String(), e.NewPrice.String(),
		e.Timestamp,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyRedeem(ctx context.Context, commit RedeemCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE positions SET shares = 0
		 WHERE user_id = $1 AND outcome_id = $2`,
		commit.UserID, commit.OutcomeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	tag, err = tx.Exec(ctx,
		`UPDATE balances SET cash = cash + $2::NUMERIC WHERE user_id = $1`,
		commit.UserID, commit.Payout.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// --- Immutable ledger ---

func (s *PostgresStore) GetLedgerByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, outcome_id, side,
		        cash_in::TEXT, shares::TEXT, avg_price::TEXT, new_price::TEXT, timestamp
		 FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var cashIn, shares, avgPrice, newPrice string
		if err := rows.Scan(&e.ID, &e.UserID, &e.MarketID, &e.OutcomeID, &e.Side,
			&cashIn, &shares, &avgPrice, &newPrice, &e.Timestamp); err != nil {
			return nil, err
		}
		e.CashIn, _ = decimal.NewFromString(cashIn)
		e.Shares, _ = decimal.NewFromString(shares)
		e.AvgPrice, _ = decimal.NewFromString(avgPrice)
		e.NewPrice, _ = decimal.NewFromString(newPrice)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
