package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	balances  map[string]decimal.Decimal
	markets   map[string]*model.Market // by ID
	slugIndex map[string]string        // slug → market ID
	pairs     map[string]*model.OutcomePair
	positions map[string]*model.Position // userID + "/" + outcomeID
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		balances:  make(map[string]decimal.Decimal),
		markets:   make(map[string]*model.Market),
		slugIndex: make(map[string]string),
		pairs:     make(map[string]*model.OutcomePair),
		positions: make(map[string]*model.Position),
	}
}

func posKey(userID, outcomeID string) string { return userID + "/" + outcomeID }

// --- Users & balances ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User, startingCash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}

	// User and balance land together; a user never exists without one.
	cp := *u
	s.users[u.ID] = &cp
	s.balances[u.ID] = startingCash
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return bal, nil
}

// --- Markets & outcomes ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slugIndex[m.Slug]; ok {
		return ErrDuplicate
	}
	cp := *m
	s.markets[m.ID] = &cp
	s.slugIndex[m.Slug] = m.ID
	return nil
}

func (s *MemoryStore) GetMarketBySlug(_ context.Context, slug string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slugIndex[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.markets[id]
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) SetMarketStatus(_ context.Context, marketID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	return nil
}

func (s *MemoryStore) ResolveMarket(_ context.Context, marketID, winningOutcomeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return ErrNotFound
	}
	m.Status = model.StatusResolved
	m.WinningOutcomeID = winningOutcomeID
	return nil
}

func (s *MemoryStore) CreateOutcomePair(_ context.Context, pair *model.OutcomePair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marketID := pair.Yes.MarketID
	if _, ok := s.pairs[marketID]; ok {
		return ErrDuplicate
	}
	cp := *pair
	s.pairs[marketID] = &cp
	return nil
}

func (s *MemoryStore) GetOutcomePair(_ context.Context, marketID string) (*model.OutcomePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.pairs[marketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pair
	return &cp, nil
}

// --- Positions & portfolio ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, outcomeID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(userID, outcomeID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetUserHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		h := model.Holding{
			MarketID:  p.MarketID,
			OutcomeID: p.OutcomeID,
			Shares:    p.Shares,
		}
		if m, ok := s.markets[p.MarketID]; ok {
			h.MarketSlug = m.Slug
		}
		if pair, ok := s.pairs[p.MarketID]; ok {
			if out, _, found := pair.ByID(p.OutcomeID); found {
				h.Side = out.Name
				h.Price = out.CurrentPrice
			}
		}
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].MarketSlug != holdings[j].MarketSlug {
			return holdings[i].MarketSlug < holdings[j].MarketSlug
		}
		return holdings[i].Side < holdings[j].Side
	})
	return holdings, nil
}

// --- Settlement ---

func (s *MemoryStore) ApplyTrade(_ context.Context, commit TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[commit.UserID]
	if !ok {
		return ErrNotFound
	}
	if bal.LessThan(commit.Debit) {
		return ErrInsufficientFunds
	}
	pair, ok := s.pairs[commit.MarketID]
	if !ok {
		return ErrNotFound
	}
	chosen, other, found := pair.ByID(commit.Chosen.ID)
	if !found || other.ID != commit.Other.ID {
		return ErrNotFound
	}

	// All checks passed; mutate everything under the single lock.
	chosen.PoolBalance = commit.Chosen.PoolBalance
	chosen.CurrentPrice = commit.Chosen.CurrentPrice
	other.PoolBalance = commit.Other.PoolBalance
	other.CurrentPrice = commit.Other.CurrentPrice

	key := posKey(commit.UserID, commit.Chosen.ID)
	p, ok := s.positions[key]
	if !ok {
		p = &model.Position{
			UserID:    commit.UserID,
			OutcomeID: commit.Chosen.ID,
			MarketID:  commit.MarketID,
			Shares:    decimal.Zero,
		}
		s.positions[key] = p
	}
	p.Shares = p.Shares.Add(commit.SharesAdded)

	s.balances[commit.UserID] = bal.Sub(commit.Debit)
	s.ledger = append(s.ledger, commit.Entry)
	return nil
}

func (s *MemoryStore) ApplyRedeem(_ context.Context, commit RedeemCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[posKey(commit.UserID, commit.OutcomeID)]
	if !ok {
		return ErrNotFound
	}
	bal, ok := s.balances[commit.UserID]
	if !ok {
		return ErrNotFound
	}

	p.Shares = decimal.Zero
	s.balances[commit.UserID] = bal.Add(commit.Payout)
	return nil
}

// --- Immutable ledger ---

func (s *MemoryStore) GetLedgerByMarket(_ context.Context, marketID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}
