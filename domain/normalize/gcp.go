package normalize

import (
	"encoding/json"
	"strings"

	"cloud-costs/domain/cloudspending"
)

type bigQueryResult struct {
	Schema struct {
		Fields []struct {
			Name optString `json:"name"`
		} `json:"fields"`
	} `json:"schema"`
	Rows []json.RawMessage `json:"rows"`
}

type bigQueryRow struct {
	F []struct {
		V json.RawMessage `json:"v"`
	} `json:"f"`
}

// GCP maps a BigQuery jobs.query result over the billing export to rows.
// Expected fields: usage_date, service_name, total_cost and optionally project_id.
// Rows without a total_cost field are dropped; invalid documents yield no rows.
func GCP(doc []byte) []cloudspending.Row {
	rows := []cloudspending.Row{}
	if isNull(doc) {
		return rows
	}
	var res bigQueryResult
	if err := json.Unmarshal(doc, &res); err != nil {
		return rows
	}

	idx := map[string]int{}
	for i, f := range res.Schema.Fields {
		idx[strings.ToLower(f.Name.Value)] = i
	}
	costIdx, ok := idx["total_cost"]
	if !ok {
		return rows
	}

	for _, raw := range res.Rows {
		var row bigQueryRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		cell := func(name string) json.RawMessage {
			i, ok := idx[name]
			if !ok || i >= len(row.F) {
				return nil
			}
			return row.F[i].V
		}

		var service, project optString
		var cost amount
		_ = json.Unmarshal(orNull(cell("service_name")), &service)
		_ = json.Unmarshal(orNull(cell("project_id")), &project)
		if costIdx < len(row.F) {
			_ = json.Unmarshal(orNull(row.F[costIdx].V), &cost)
		}

		rows = append(rows, cloudspending.Row{
			Provider:     cloudspending.ProviderGCP,
			Service:      service.or(cloudspending.UnknownService),
			Cost:         cost.decimal(),
			Timestamp:    dateText(cell("usage_date")),
			Subscription: project.or(""),
		})
	}
	return rows
}
