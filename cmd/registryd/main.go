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

	"sealedmsg/internal/blob"
	"sealedmsg/internal/config"
	"sealedmsg/internal/observability/logging"
	"sealedmsg/internal/observability/metrics"
	"sealedmsg/internal/registry"
)

func main() {
	cfg := config.LoadRegistry()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "registry",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("registry")

	logger.Info("starting service")

	svc, err := registry.New(cfg.DataDir, registry.WithLogger(logger))
	if err != nil {
		logger.Error("open registry", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var blobs blob.Store
	if cfg.Minio.Endpoint != "" {
		blobs, err = blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		}, logger)
		if err != nil {
			logger.Error("connect minio", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("MINIO_ENDPOINT not set; blobs are kept in memory and lost on restart")
		blobs = blob.NewMemoryStore()
	}

	handler := registry.NewRouter(svc, blobs, registry.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("registry service listening", "addr", cfg.Addr, "data_dir", cfg.DataDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
