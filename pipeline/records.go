package pipeline

import (
	"log/slog"

	"cloud-costs/domain/cloudspending"
)

// ToRecords converts normalized rows to storable records. Rows whose timestamp cannot be
// parsed (for example "Unknown Date") are dropped and counted.
func ToRecords(rows []cloudspending.Row) (records []cloudspending.Record, skipped int) {
	records = make([]cloudspending.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			skipped++
			slog.Debug("refresh.row.skipped", "provider", row.Provider, "service", row.Service, "timestamp", row.Timestamp, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		slog.Warn("refresh.rows.skipped", "count", skipped)
	}
	return records, skipped
}
