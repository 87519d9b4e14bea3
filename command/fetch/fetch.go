// Package fetch runs a single refresh cycle from the command line.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cloud-costs/connectors/store"
	"cloud-costs/domain/config"
	"cloud-costs/pipeline"
)

// NewCommand builds `fetch`: fetch, normalize and persist once, then exit.
func NewCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch current month costs from the providers and persist them once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := store.OpenPersistent(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()

			r := pipeline.NewRefresher(st, *cfg, pipeline.NewMetrics(prometheus.NewRegistry()))
			return Run(cmd.Context(), r, cfg.Schedule.FetchTimeout, cmd.OutOrStdout())
		},
	}
}

// Run executes one cycle bounded by timeout and prints its result as JSON.
func Run(ctx context.Context, runner pipeline.Runner, timeout time.Duration, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := runner.Run(ctx)
	if err != nil {
		slog.Error("fetch.failed", "error", err)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
