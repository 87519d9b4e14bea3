// Package cmdimport loads saved cost data into the record store: either a normalized CSV
// produced by `normalize`, or a provider-native JSON document.
package cmdimport

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	ccsv "cloud-costs/connectors/csv"
	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
	"cloud-costs/pipeline"
)

// NewCommand builds `import`.
//
//	cloud-costs import --csv normalized_cost_data.csv
//	cloud-costs import --provider azure azure_cost_data.json
func NewCommand(load func() (*config.Config, error)) *cobra.Command {
	var (
		csvPath  string
		provider string
	)
	cmd := &cobra.Command{
		Use:   "import [document]",
		Short: "Import a normalized CSV or a provider cost document into the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (csvPath == "") == (len(args) == 0) {
				return fmt.Errorf("import: pass either --csv or a document path")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := store.OpenPersistent(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()

			var res pipeline.IngestResult
			if csvPath != "" {
				res, err = ImportCSV(cmd.Context(), st, csvPath)
			} else {
				p, ok := cloudspending.ParseProvider(provider)
				if !ok {
					return fmt.Errorf("import: --provider must be aws, azure or gcp, got %q", provider)
				}
				res, err = ImportDocument(cmd.Context(), st, p, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rows=%d persisted=%d skipped=%d\n", res.Rows, res.Persisted, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "normalized CSV file to import")
	cmd.Flags().StringVar(&provider, "provider", "", "provider of the JSON document (aws, azure, gcp)")
	return cmd
}

// ImportCSV upserts the rows of a normalized CSV file.
func ImportCSV(ctx context.Context, st cloudspending.Store, path string) (pipeline.IngestResult, error) {
	slog.Info("import.csv.start", "path", path)
	rows, err := ccsv.ReadRows(path)
	if err != nil {
		return pipeline.IngestResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	res := pipeline.IngestResult{Encoding: "utf-8", Rows: len(rows)}
	records, skipped := pipeline.ToRecords(rows)
	res.Skipped = skipped
	if len(records) == 0 {
		slog.Warn("import.csv.empty", "path", path)
		return res, nil
	}
	n, err := st.UpsertRecords(ctx, records)
	if err != nil {
		return res, fmt.Errorf("failed to persist records: %w", err)
	}
	res.Persisted = n
	slog.Info("import.csv.done", "path", path, "rows", res.Rows, "persisted", n, "skipped", skipped)
	return res, nil
}

// ImportDocument upserts the rows mapped from a provider-native document.
func ImportDocument(ctx context.Context, st cloudspending.Store, p cloudspending.Provider, path string) (pipeline.IngestResult, error) {
	slog.Info("import.document.start", "path", path, "provider", p)
	b, err := os.ReadFile(path)
	if err != nil {
		return pipeline.IngestResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return pipeline.Ingest(ctx, st, p, b)
}
