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
	"sealedmsg/internal/policy"
)

func main() {
	cfg := config.LoadLedger()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "ledger",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("ledger")

	logger.Info("starting service")

	db, err := ledger.OpenDB(cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := ledger.NewStore(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	var opts []policy.Option
	if cfg.AnyOfUnlock {
		opts = append(opts, policy.WithDeprecatedAnyOf())
	}
	svc := ledger.NewService(st, policy.New(opts...), logger)
	if cfg.ServiceToken == "" {
		logger.Warn("LEDGER_SERVICE_TOKEN not set; oracle access checks are disabled")
	}
	handler := ledger.NewRouter(svc, ledger.RouterConfig{
		ServiceToken: cfg.ServiceToken,
		RateLimit:    cfg.RateLimit,
		TokenSkew:    cfg.TokenSkew,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
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

	slog.Info("ledger service listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
