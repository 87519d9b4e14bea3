package calculate

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	ccsv "cloud-costs/connectors/csv"
	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
	"cloud-costs/domain/recommend"
	"cloud-costs/pipeline"
)

// Output files written under the output directory.
const (
	ServicesFile        = "cost_by_service.csv"
	DailyFile           = "cost_daily.csv"
	RecommendationsFile = "recommendations.csv"
)

// NewCommand builds `calculate`: per-service, per-day and recommendation reports as CSV files.
// Records come from a normalized CSV when --csv is set, otherwise from the store.
func NewCommand(load func() (*config.Config, error)) *cobra.Command {
	var (
		csvPath string
		outDir  string
		start   string
		end     string
	)
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Compute cost aggregates and recommendations into CSV reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f cloudspending.Filter
			var err error
			if f.Start, err = parseDay(start); err != nil {
				return fmt.Errorf("calculate: invalid --start: %w", err)
			}
			if f.End, err = parseDay(end); err != nil {
				return fmt.Errorf("calculate: invalid --end: %w", err)
			}

			var records []cloudspending.Record
			if csvPath != "" {
				records, err = fromCSV(csvPath, f)
			} else {
				records, err = fromStore(cmd.Context(), load, f)
			}
			if err != nil {
				return err
			}
			return Run(records, outDir, recommend.DefaultOptions())
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "normalized CSV to read instead of the store")
	cmd.Flags().StringVar(&outDir, "out", "data", "directory for the report files")
	cmd.Flags().StringVar(&start, "start", "", "first day to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day to include (YYYY-MM-DD)")
	return cmd
}

// Run writes the three reports for records into outDir.
func Run(records []cloudspending.Record, outDir string, opts recommend.Options) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	services := cloudspending.ByService(records)
	if err := writeServices(filepath.Join(outDir, ServicesFile), services); err != nil {
		return err
	}
	if err := writeDaily(filepath.Join(outDir, DailyFile), cloudspending.Daily(records)); err != nil {
		return err
	}
	recs := recommend.Analyze(records, opts)
	if err := writeRecommendations(filepath.Join(outDir, RecommendationsFile), recs); err != nil {
		return err
	}
	slog.Info("calculate.done", "records", len(records), "services", len(services), "recommendations", len(recs), "out", outDir)
	return nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

func fromCSV(path string, f cloudspending.Filter) ([]cloudspending.Record, error) {
	rows, err := ccsv.ReadRows(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	records, _ := pipeline.ToRecords(rows)
	records = f.Apply(records)
	store.SortRecords(records)
	return records, nil
}

func fromStore(ctx context.Context, load func() (*config.Config, error), f cloudspending.Filter) ([]cloudspending.Record, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	st, err := store.OpenPersistent(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ListRecords(ctx, f)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func writeServices(path string, services []cloudspending.ServiceCost) error {
	rows := make([][]string, 0, len(services))
	for _, s := range services {
		rows = append(rows, []string{string(s.Provider), s.Service, s.Cost.StringFixed(2), strconv.FormatFloat(s.Share, 'f', 4, 64)})
	}
	return writeCSV(path, []string{"provider", "service", "cost", "share"}, rows)
}

func writeDaily(path string, daily []cloudspending.DailyCost) error {
	rows := make([][]string, 0, len(daily))
	for _, d := range daily {
		rows = append(rows, []string{d.Date.Format(time.DateOnly), string(d.Provider), d.Service, d.Cost.StringFixed(2)})
	}
	return writeCSV(path, []string{"date", "provider", "service", "cost"}, rows)
}

func writeRecommendations(path string, recs []recommend.Recommendation) error {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			string(r.Impact),
			string(r.Kind),
			string(r.Provider),
			r.Service,
			r.Cost.StringFixed(2),
			r.EstimatedMonthly.StringFixed(2),
			r.Reason,
		})
	}
	return writeCSV(path, []string{"impact", "kind", "provider", "service", "cost", "estimated_monthly", "reason"}, rows)
}
