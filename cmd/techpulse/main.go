// Command techpulse runs the content aggregation core: cached news and
// hackathon listings kept fresh from upstream sources, with error
// monitoring, health checks, DB supervision and operator alerts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"techpulse/internal/app"
	"techpulse/internal/config"
	"techpulse/internal/observability/logging"
	pkgconfig "techpulse/internal/pkg/config"
)

var outputFormat string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "techpulse",
		Short:         "Tech news and hackathon aggregation service",
		Version:       getVersion(),
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format for check and refresh: json or text")

	root.AddCommand(newServeCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newRefreshCommand())
	return root
}

func getVersion() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return version
}

// initLogger installs the process-wide JSON logger writing to w.
func initLogger(w io.Writer) *slog.Logger {
	logger := logging.NewLoggerTo(w)
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads the environment. Invalid values have already been
// replaced by defaults; each substitution is logged as a warning.
func loadConfig(logger *slog.Logger) (*config.AppConfig, error) {
	cfg, warnings, err := config.Load(pkgconfig.NewConfigMetrics("techpulse", prometheus.DefaultRegisterer))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("configuration fallback", slog.String("detail", w))
	}
	return cfg, nil
}

// withCore builds a core, runs fn against it and closes it.
func withCore(ctx context.Context, logger *slog.Logger, fn func(*app.Core) error) error {
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	core, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := core.Close(closeCtx); err != nil {
			logger.Error("failed to close core", slog.Any("error", err))
		}
	}()
	return fn(core)
}

func validateOutput() error {
	if outputFormat != "json" && outputFormat != "text" {
		return fmt.Errorf("unknown output format %q (want json or text)", outputFormat)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
