package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/predictlab/cpmm-engine/internal/config"
	"github.com/predictlab/cpmm-engine/internal/engine"
	"github.com/predictlab/cpmm-engine/internal/metrics"
	"github.com/predictlab/cpmm-engine/internal/risk"
	"github.com/predictlab/cpmm-engine/internal/store"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Position limits ---
	limiter := risk.NewLimiter(
		mustDecimal(cfg.Risk.MaxSharesPerMarket),
		mustDecimal(cfg.Risk.MaxTotalShares),
	)

	// --- WebSocket hub ---
	hub := engine.NewHub()
	go hub.Run()

	// --- Engine service ---
	svc := engine.NewService(st, limiter, hub, engine.Options{
		DefaultLiquidity: mustDecimal(cfg.Market.DefaultLiquidity),
		StartingBalance:  mustDecimal(cfg.Market.StartingBalance),
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"cpmm-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	tradeLimiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.TradesPerSecond), cfg.RateLimit.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", hub.HandleWS)

		// Users and balances.
		r.Post("/users", svc.HandleCreateUser)
		r.Get("/users/{userID}/balance", svc.HandleGetBalance)

		// Market management.
		r.Get("/markets", svc.HandleListMarkets)
		r.Post("/markets", svc.HandleCreateMarket)
		r.Get("/markets/{slug}", svc.HandleGetMarket)
		r.Get("/markets/{slug}/price", svc.HandleGetPrice)
		r.Get("/markets/{slug}/outcomes", svc.HandleGetOutcomes)
		r.Get("/markets/{slug}/ledger", svc.HandleGetLedger)
		r.Post("/markets/{slug}/initialize", svc.HandleInitialize)
		r.Post("/markets/{slug}/publish", svc.HandlePublishMarket)
		r.Post("/markets/{slug}/close", svc.HandleCloseMarket)
		r.Post("/markets/{slug}/resolve", svc.HandleResolve)
		r.Post("/markets/{slug}/redeem", svc.HandleRedeem)

		// Trade execution, throttled.
		r.With(throttle(tradeLimiter)).Post("/markets/{slug}/trade", svc.HandleTrade)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", svc.HandleGetPortfolio)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("cpmm-engine listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down cpmm-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("cpmm-engine stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// throttle rejects requests exceeding the shared rate limit with 429.
func throttle(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// mustDecimal parses a config decimal, exiting on malformed input.
func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		slog.Error("invalid decimal in config", "value", s, "err", err)
		os.Exit(1)
	}
	return d
}
