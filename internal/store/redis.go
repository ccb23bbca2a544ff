package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market and outcome reads. Writes go to the primary store and
// invalidate the cache. Balances and positions are never cached — stale
// money reads are worse than the extra round trip.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func marketKey(slug string) string   { return fmt.Sprintf("market:%s", slug) }
func pairKey(marketID string) string { return fmt.Sprintf("outcomes:%s", marketID) }
func slugKey(marketID string) string { return fmt.Sprintf("market-slug:%s", marketID) }

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(slug)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarketBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetOutcomePair(ctx context.Context, marketID string) (*model.OutcomePair, error) {
	data, err := s.rdb.Get(ctx, pairKey(marketID)).Bytes()
	if err == nil {
		var pair model.OutcomePair
		if json.Unmarshal(data, &pair) == nil {
			return &pair, nil
		}
	}

	pair, err := s.primary.GetOutcomePair(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.cachePair(ctx, pair)
	return pair, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SetMarketStatus(ctx context.Context, marketID, status string) error {
	if err := s.primary.SetMarketStatus(ctx, marketID, status); err != nil {
		return err
	}
	s.invalidateMarket(ctx, marketID)
	return nil
}

func (s *CachedStore) ResolveMarket(ctx context.Context, marketID, winningOutcomeID string) error {
	if err := s.primary.ResolveMarket(ctx, marketID, winningOutcomeID); err != nil {
		return err
	}
	s.invalidateMarket(ctx, marketID)
	return nil
}

func (s *CachedStore) CreateOutcomePair(ctx context.Context, pair *model.OutcomePair) error {
	if err := s.primary.CreateOutcomePair(ctx, pair); err != nil {
		return err
	}
	s.cachePair(ctx, pair)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, commit TradeCommit) error {
	if err := s.primary.ApplyTrade(ctx, commit); err != nil {
		return err
	}
	// Pool balances changed; next read re-populates from the primary.
	s.rdb.Del(ctx, pairKey(commit.MarketID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User, startingCash decimal.Decimal) error {
	return s.primary.CreateUser(ctx, u, startingCash)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.primary.GetBalance(ctx, userID)
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, outcomeID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, outcomeID)
}

func (s *CachedStore) GetUserHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.primary.GetUserHoldings(ctx, userID)
}

func (s *CachedStore) ApplyRedeem(ctx context.Context, commit RedeemCommit) error {
	return s.primary.ApplyRedeem(ctx, commit)
}

func (s *CachedStore) GetLedgerByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerByMarket(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.Slug), data, s.ttl)
		s.rdb.Set(ctx, slugKey(m.ID), m.Slug, s.ttl)
	}
}

func (s *CachedStore) cachePair(ctx context.Context, pair *model.OutcomePair) {
	if data, err := json.Marshal(pair); err == nil {
		s.rdb.Set(ctx, pairKey(pair.Yes.MarketID), data, s.ttl)
	}
}

func (s *CachedStore) invalidateMarket(ctx context.Context, marketID string) {
	s.rdb.Del(ctx, pairKey(marketID))
	// Market entries are cached by slug; the id→slug key is the reverse index.
	if slug, err := s.rdb.Get(ctx, slugKey(marketID)).Result(); err == nil {
		s.rdb.Del(ctx, marketKey(slug))
	}
}
