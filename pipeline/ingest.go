package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud-costs/connectors/source"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/normalize"
)

// ErrUnusableDocument is returned when an uploaded document cannot be decoded as a JSON object.
var ErrUnusableDocument = errors.New("document could not be decoded")

// IngestResult summarizes one uploaded or imported document.
type IngestResult struct {
	Encoding  string `json:"encoding"`
	Rows      int    `json:"rows"`
	Persisted int    `json:"persisted"`
	Skipped   int    `json:"skipped"`
}

// Ingest decodes a provider-native document, maps it to rows and upserts the records.
// A document that maps to no rows is not an error.
func Ingest(ctx context.Context, st cloudspending.Store, p cloudspending.Provider, raw []byte) (IngestResult, error) {
	doc := source.Decode(raw)
	if !doc.OK() {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrUnusableDocument, doc.Status)
	}
	res := IngestResult{Encoding: doc.Encoding}

	var rows []cloudspending.Row
	switch p {
	case cloudspending.ProviderAWS:
		rows = normalize.AWS(doc.Data)
	case cloudspending.ProviderAzure:
		rows = normalize.Azure(doc.Data)
	case cloudspending.ProviderGCP:
		rows = normalize.GCP(doc.Data)
	default:
		return res, fmt.Errorf("unknown provider %q", p)
	}
	res.Rows = len(rows)
	if len(rows) == 0 {
		slog.Info("ingest.empty", "provider", p, "encoding", doc.Encoding)
		return res, nil
	}

	records, skipped := ToRecords(rows)
	res.Skipped = skipped
	n, err := st.UpsertRecords(ctx, records)
	if err != nil {
		return res, fmt.Errorf("failed to persist records: %w", err)
	}
	res.Persisted = n
	slog.Info("ingest.done", "provider", p, "rows", res.Rows, "persisted", n, "skipped", skipped)
	return res, nil
}
