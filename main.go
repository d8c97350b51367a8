package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nostr-wallet/internal/cache"
	"nostr-wallet/internal/config"
	"nostr-wallet/internal/nwc"
)

// Request body size limits
const (
	maxBodySize = 32 * 1024 // 32KB for POST requests
)

// app carries what the handlers share; built once in main
type app struct {
	wallets   *walletService
	metrics   *serverMetrics
	cache     cache.Backend
	cacheKind string
}

// balanceFetchTimeout covers a connect plus one retried balance request
func balanceFetchTimeout(cfg *config.Config) time.Duration {
	return cfg.ConnectTimeout + 2*cfg.RequestTimeout + cfg.ReconnectBackoff
}

// limitBody wraps an HTTP handler to limit request body size
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// securityHeaders wraps an HTTP handler to add security headers
func securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Responses carry preimages; never cache or sniff them
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next(w, r)
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	post := func(h http.HandlerFunc) http.HandlerFunc {
		return securityHeaders(limitBody(h, maxBodySize))
	}
	mux.HandleFunc("POST /wallet/balance", post(a.balanceHandler))
	mux.HandleFunc("POST /wallet/pay", post(a.payHandler))
	mux.HandleFunc("POST /wallet/test", post(a.testHandler))
	mux.HandleFunc("POST /wallet/transactions", post(a.transactionsHandler))
	mux.HandleFunc("POST /wallet/disconnect", post(a.disconnectHandler))
	mux.HandleFunc("GET /health", a.healthHandler)
	mux.Handle("GET /metrics", a.metrics.handler())

	return a.logRequests(mux)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	InitLogger(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	metrics := newServerMetrics(registry)

	backend, backendType := cache.Open(cfg.RedisURL)
	defer backend.Close()
	metrics.setBuildInfo(backendType, cfg.Simulate)

	opts := cfg.NWCOptions()
	opts.Logger = slog.Default()
	opts.Metrics = nwc.NewMetrics(registry)
	store := nwc.NewSessionStore(opts)
	defer store.CloseAll()

	a := &app{
		wallets:   newWalletService(store, cache.NewWalletInfoCache(backend, cfg.CacheConfig()), metrics, cfg.Simulate, balanceFetchTimeout(cfg)),
		metrics:   metrics,
		cache:     backend,
		cacheKind: backendType,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "port", cfg.Port, "cache", backendType, "simulate", cfg.Simulate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}
}
