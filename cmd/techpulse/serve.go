package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"techpulse/internal/app"
	hhttp "techpulse/internal/handler/http"
	"techpulse/internal/observability/tracing"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, initLogger(os.Stdout))
		},
	}
}

func runServer(ctx context.Context, logger *slog.Logger) error {
	shutdownTracing := tracing.Setup()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to shut down tracer provider", slog.Any("error", err))
		}
	}()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	core, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	if err := core.Start(); err != nil {
		return fmt.Errorf("start core: %w", err)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: hhttp.NewRouter(core, hhttp.Options{
			Logger:           logger,
			RequestTimeout:   cfg.RequestTimeout,
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			RefreshRateLimit: cfg.RefreshRateLimit,
			TrustedProxies:   cfg.TrustedProxies,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("version", getVersion()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", slog.Any("error", err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	if err := core.Close(shutdownCtx); err != nil {
		logger.Error("core shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
	return runErr
}
