package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"techpulse/internal/app"
	"techpulse/internal/domain/entity"
	"techpulse/internal/usecase/health"
	"techpulse/internal/usecase/refresh"
)

var errUnhealthy = errors.New("service is unhealthy")

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one health check and print the snapshot as JSON",
		Long: `check probes the database, the running server's API surface, memory and
every upstream source once, prints the snapshot to stdout and exits non-zero
when the overall status is unhealthy.`,
		PreRunE: func(*cobra.Command, []string) error { return validateOutput() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := initLogger(os.Stderr)
			return withCore(cmd.Context(), logger, func(core *app.Core) error {
				snap := core.CheckHealth(cmd.Context())
				if err := printSnapshot(cmd.OutOrStdout(), snap); err != nil {
					return err
				}
				if snap.Overall == health.StatusUnhealthy {
					return errUnhealthy
				}
				return nil
			})
		},
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "refresh <resource>",
		Short:     "Refresh one resource from its upstream sources and print the outcome",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(entity.ResourceNews), string(entity.ResourceHackathons)},
		PreRunE:   func(*cobra.Command, []string) error { return validateOutput() },
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := entity.ParseResourceType(args[0])
			if err != nil {
				return fmt.Errorf("%q: %w", args[0], err)
			}

			logger := initLogger(os.Stderr)
			return withCore(cmd.Context(), logger, func(core *app.Core) error {
				out, err := core.ForceRefresh(cmd.Context(), r)
				if err != nil {
					return err
				}
				view := struct {
					Refreshed bool   `json:"refreshed"`
					Reason    string `json:"reason,omitempty"`
					Error     string `json:"error,omitempty"`
					entity.CachedResourceSet
				}{Refreshed: out.Refreshed, Reason: out.Reason, CachedResourceSet: out.Set}
				if out.Err != nil {
					view.Error = out.Err.Error()
				}
				if outputFormat == "text" {
					return printOutcome(cmd.OutOrStdout(), out)
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func printSnapshot(w io.Writer, snap health.Snapshot) error {
	if outputFormat == "json" {
		return printJSON(w, snap)
	}
	_, err := fmt.Fprintf(w, "checked at %s (%s)\n%s\n",
		snap.Timestamp.UTC().Format(time.RFC3339), snap.Duration, strings.Join(snap.Lines(), "\n"))
	return err
}

func printOutcome(w io.Writer, out refresh.Outcome) error {
	status := "refreshed"
	switch {
	case out.Err != nil:
		status = "skipped: " + out.Err.Error()
	case !out.Refreshed:
		status = "failed: " + out.Reason
	}
	if _, err := fmt.Fprintf(w, "%s: %s, %d records (fallback=%t)\n",
		out.Set.Resource, status, len(out.Set.Records), out.Set.Fallback); err != nil {
		return err
	}
	for i, rec := range out.Set.Records {
		if _, err := fmt.Fprintf(w, "%3d. %s\n     %s\n", i+1, rec.Title, rec.URL); err != nil {
			return err
		}
	}
	return nil
}
