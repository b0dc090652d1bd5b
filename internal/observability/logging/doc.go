// Package logging provides structured logging utilities.
//
// The process logger is a log/slog JSON handler on stdout. Operational
// records that must survive restarts go to per-concern journals (errors,
// health, alerts, refresh): append-only JSON lines files rotated by
// lumberjack.
//
// Example usage:
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//
//	journals, err := logging.OpenJournals("/var/log/techpulse", logging.DefaultJournalOptions())
//	if err != nil {
//	    return err
//	}
//	defer journals.Close()
//	journals.Health.Append(ctx, "health check", slog.String("overall", "healthy"))
package logging
