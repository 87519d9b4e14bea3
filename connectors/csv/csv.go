package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cloud-costs/domain/cloudspending"
)

// Header is the column order of normalized cost files.
var Header = []string{"provider", "service", "cost", "timestamp", "subscription", "resource_group", "tags"}

// WriteRows writes the normalized CSV at path. With no rows nothing is created and
// written is false; callers must not assume the file exists.
func WriteRows(path string, rows []cloudspending.Row) (written bool, err error) {
	if len(rows) == 0 {
		slog.Warn("csv.rows.empty", "path", path)
		return false, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return false, err
	}
	for _, r := range rows {
		row := []string{string(r.Provider), r.Service, r.Cost.String(), r.Timestamp, r.Subscription, r.ResourceGroup, r.Tags}
		if err := w.Write(row); err != nil {
			return false, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, err
	}
	slog.Info("csv.rows.written", "path", path, "count", len(rows))
	return true, nil
}

// WriteRecords streams persisted records in the normalized layout. Timestamps are
// rendered as dates. An empty slice still produces the header.
func WriteRecords(out io.Writer, records []cloudspending.Record) error {
	w := csv.NewWriter(out)
	if err := w.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			string(r.Provider),
			r.Service,
			r.Cost.String(),
			r.Timestamp.UTC().Format(time.DateOnly),
			r.Subscription,
			r.ResourceGroup,
			r.Tags,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", strconv.FormatInt(r.ID, 10), err)
		}
	}
	w.Flush()
	return w.Error()
}
