package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"cloud-costs/domain/cloudspending"
)

// ReadRows reads a normalized CSV written by WriteRows. Columns are located by
// header name, so extra columns (such as an index column) are ignored.
func ReadRows(path string) ([]cloudspending.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses normalized CSV from r.
func Decode(r io.Reader) ([]cloudspending.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{"provider", "service", "cost", "timestamp"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var rows []cloudspending.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		field := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		provider, ok := cloudspending.ParseProvider(field("provider"))
		if !ok {
			return nil, fmt.Errorf("line %d: unknown provider %q", line, field("provider"))
		}
		cost, err := decimal.NewFromString(strings.TrimSpace(field("cost")))
		if err != nil {
			cost = decimal.Zero
		}
		rows = append(rows, cloudspending.Row{
			Provider:      provider,
			Service:       field("service"),
			Cost:          cost,
			Timestamp:     field("timestamp"),
			Subscription:  field("subscription"),
			ResourceGroup: field("resource_group"),
			Tags:          field("tags"),
		})
	}
	return rows, nil
}
