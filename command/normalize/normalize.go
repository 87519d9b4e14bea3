// Package normalize is the batch mode: it turns saved AWS and Azure cost documents into
// one normalized CSV file.
package normalize

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	ccsv "cloud-costs/connectors/csv"
	"cloud-costs/connectors/source"
	"cloud-costs/domain/config"
	"cloud-costs/domain/normalize"
)

// Options are the batch file locations.
type Options struct {
	AWSInput   string
	AzureInput string
	Output     string
}

// Summary reports what a batch run produced.
type Summary struct {
	AWS     source.Status
	Azure   source.Status
	Rows    int
	Written bool
}

// NewCommand builds `normalize`. Flags default to the batch section of the config.
func NewCommand(load func() (*config.Config, error)) *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize saved AWS and Azure cost documents into a CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("aws") {
				opts.AWSInput = cfg.Batch.AWSInput
			}
			if !cmd.Flags().Changed("azure") {
				opts.AzureInput = cfg.Batch.AzureInput
			}
			if !cmd.Flags().Changed("out") {
				opts.Output = cfg.Batch.Output
			}
			s, err := Run(opts)
			if err != nil {
				return err
			}
			if s.Written {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", s.Rows, opts.Output)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no valid data")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.AWSInput, "aws", "", "AWS Cost Explorer document (default from config batch.aws_input)")
	cmd.Flags().StringVar(&opts.AzureInput, "azure", "", "Azure cost document (default from config batch.azure_input)")
	cmd.Flags().StringVar(&opts.Output, "out", "", "output CSV (default from config batch.output)")
	return cmd
}

// Run loads both documents, assembles rows and writes the CSV. Missing or unusable
// inputs are treated as empty. With no rows no file is written.
func Run(opts Options) (Summary, error) {
	slog.Info("normalize.start", "aws", opts.AWSInput, "azure", opts.AzureInput)
	awsDoc := source.LoadFile(opts.AWSInput)
	azureDoc := source.LoadFile(opts.AzureInput)

	rows := normalize.Assemble(awsDoc.Data, azureDoc.Data)
	s := Summary{AWS: awsDoc.Status, Azure: azureDoc.Status, Rows: len(rows)}

	written, err := ccsv.WriteRows(opts.Output, rows)
	if err != nil {
		return s, fmt.Errorf("failed to write %s: %w", opts.Output, err)
	}
	s.Written = written
	if !written {
		slog.Warn("normalize.no_data", "reason", "no valid data")
		return s, nil
	}
	slog.Info("normalize.done", "rows", len(rows), "output", opts.Output)
	return s, nil
}
