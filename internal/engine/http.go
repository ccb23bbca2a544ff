// Package engine — HTTP handlers exposing the trading engine over chi.
package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predictlab/cpmm-engine/internal/model"
	"github.com/predictlab/cpmm-engine/internal/risk"
	"github.com/predictlab/cpmm-engine/internal/slug"
)

// --- Request/Response types ---

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
}

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`        // derived from title when empty
	Description string          `json:"description"`
	Liquidity   decimal.Decimal `json:"liquidity"` // 0 → default liquidity
	Draft       bool            `json:"draft"`
}

// InitializeRequest is the JSON body for POST /markets/{slug}/initialize.
type InitializeRequest struct {
	Liquidity decimal.Decimal `json:"liquidity"` // 0 → default liquidity
}

// TradeRequest is the JSON body for POST /markets/{slug}/trade.
type TradeRequest struct {
	UserID string          `json:"user_id"`
	Side   string          `json:"side"` // "YES" or "NO"
	Amount decimal.Decimal `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{slug}/resolve.
type ResolveRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
}

// RedeemRequest is the JSON body for POST /markets/{slug}/redeem.
type RedeemRequest struct {
	UserID string `json:"user_id"`
}

// --- HTTP Handlers ---

// HandleCreateUser handles POST /api/v1/users
func (s *Service) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	u, err := s.CreateUser(r.Context(), req.Username)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleGetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	bal, err := s.Balance(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": bal})
}

// HandleCreateMarket handles POST /api/v1/markets
func (s *Service) HandleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	m, err := s.CreateMarket(r.Context(), req.Title, req.Slug, req.Description, req.Liquidity, req.Draft)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleListMarkets handles GET /api/v1/markets
func (s *Service) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// HandleGetMarket handles GET /api/v1/markets/{slug}
func (s *Service) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.GetMarket(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleGetPrice handles GET /api/v1/markets/{slug}/price
func (s *Service) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	pair, err := s.Outcomes(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": pair.Yes.CurrentPrice,
		"no":  pair.No.CurrentPrice,
	})
}

// HandleGetOutcomes handles GET /api/v1/markets/{slug}/outcomes
func (s *Service) HandleGetOutcomes(w http.ResponseWriter, r *http.Request) {
	pair, err := s.Outcomes(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// HandleGetLedger handles GET /api/v1/markets/{slug}/ledger
func (s *Service) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.MarketLedger(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleInitialize handles POST /api/v1/markets/{slug}/initialize
func (s *Service) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	// An empty body initializes at the default liquidity.
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pair, err := s.InitializeMarket(r.Context(), chi.URLParam(r, "slug"), req.Liquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// HandlePublishMarket handles POST /api/v1/markets/{slug}/publish
func (s *Service) HandlePublishMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.PublishMarket(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleCloseMarket handles POST /api/v1/markets/{slug}/close
func (s *Service) HandleCloseMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.CloseMarket(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleTrade handles POST /api/v1/markets/{slug}/trade
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.ExecuteTrade(r.Context(), req.UserID, chi.URLParam(r, "slug"), req.Side, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleResolve handles POST /api/v1/markets/{slug}/resolve
func (s *Service) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WinningOutcomeID == "" {
		writeError(w, "winning_outcome_id is required", http.StatusBadRequest)
		return
	}

	m, err := s.ResolveMarket(r.Context(), chi.URLParam(r, "slug"), req.WinningOutcomeID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleRedeem handles POST /api/v1/markets/{slug}/redeem
func (s *Service) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.RedeemPosition(r.Context(), req.UserID, chi.URLParam(r, "slug"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// --- Error mapping & helpers ---

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidLiquidity),
		errors.Is(err, slug.ErrInvalid),
		errors.Is(err, slug.ErrTooLong),
		errors.Is(err, slug.ErrEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, ErrMarketNotFound),
		errors.Is(err, ErrOutcomeNotFound),
		errors.Is(err, ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrMarketNotOpen),
		errors.Is(err, ErrMarketNotResolved),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrInvalidWinningOutcome),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, risk.ErrMarketLimitExceeded),
		errors.Is(err, risk.ErrExposureLimitExceeded):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
