package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wheelhouse/wheel-engine/internal/metrics"
	"github.com/wheelhouse/wheel-engine/internal/pnl"
	"github.com/wheelhouse/wheel-engine/internal/price"
	"github.com/wheelhouse/wheel-engine/internal/report"
	"github.com/wheelhouse/wheel-engine/internal/store"
	"github.com/wheelhouse/wheel-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cleanup []func()

	// --- Redis (optional, shared by store cache and price fallback) ---
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis enabled")
	}

	// --- Store ---
	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("store read-through cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price provider ---
	// Lookups are time-boxed; failures fall back to the last known quote
	// with a staleness flag rather than failing reports.
	priceTimeout := 3 * time.Second
	if ms := os.Getenv("PRICE_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			priceTimeout = time.Duration(v) * time.Millisecond
		}
	}
	priceTTL := 5 * time.Minute
	if s := os.Getenv("PRICE_CACHE_TTL"); s != "" {
		if v, err := time.ParseDuration(s); err == nil && v > 0 {
			priceTTL = v
		}
	}

	var provider price.Provider
	if apiURL := os.Getenv("PRICE_API_URL"); apiURL != "" {
		provider = price.NewHTTPProvider(apiURL, priceTimeout)
	} else {
		slog.Warn("PRICE_API_URL not set, open positions will be marked stale")
		provider = price.Static{}
	}
	provider = price.NewCachedProvider(provider, rdb, priceTTL)

	// --- Engine and services ---
	engine := pnl.NewEngine(provider)

	wsHub := trade.NewWSHub()
	go wsHub.Run()

	tradeSvc := trade.NewService(st, engine, wsHub)
	reportSvc := report.NewService(st, engine)

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
		w.Write([]byte(`{"status":"ok","service":"wheel-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for position lifecycle updates.
		r.Get("/ws", wsHub.HandleWS)

		// Ledger.
		r.Post("/events", tradeSvc.AppendEvent)

		// Position queries.
		r.Get("/positions", tradeSvc.ListPositions)
		r.Get("/positions/{positionID}", tradeSvc.GetPosition)

		// Cash flows.
		r.Post("/deposits", tradeSvc.CreateDeposit)
		r.Get("/deposits", tradeSvc.ListDeposits)

		// Dashboard report.
		r.Get("/dashboard", reportSvc.GetDashboard)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wheel-engine listening", "port", port)
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

	slog.Info("shutting down wheel-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wheel-engine stopped")
}
