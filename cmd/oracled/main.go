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

	"sealedmsg/internal/config"
	"sealedmsg/internal/ledger"
	"sealedmsg/internal/observability/logging"
	"sealedmsg/internal/observability/metrics"
	"sealedmsg/internal/oracle"
)

func main() {
	cfg := config.LoadOracle()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "oracle",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("oracle")

	logger.Info("starting service")

	if cfg.LedgerServiceToken == "" {
		logger.Error("LEDGER_SERVICE_TOKEN is required to check access")
		os.Exit(1)
	}
	keys, created, err := oracle.LoadOrCreateKey(cfg.KeyFile)
	if err != nil {
		logger.Error("load oracle key", "error", err)
		os.Exit(1)
	}
	if created {
		logger.Info("generated oracle key", "path", cfg.KeyFile)
	}

	acl := ledger.NewAccessClient(cfg.LedgerURL, cfg.LedgerServiceToken, nil)
	svc, err := oracle.New(keys, cfg.Scope, acl,
		oracle.WithRateLimit(cfg.RatePerSecond, cfg.Burst),
		oracle.WithLogger(logger),
	)
	if err != nil {
		logger.Error("init oracle", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           oracle.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("oracle service listening", "addr", cfg.Addr, "public_key", svc.PublicKey().String(), "scope", cfg.Scope)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
