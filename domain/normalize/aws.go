package normalize

import (
	"encoding/json"
	"strings"

	"cloud-costs/domain/cloudspending"
)

// CostMetric names a Cost Explorer cost basis.
type CostMetric string

const (
	MetricUnblendedCost CostMetric = "UnblendedCost"
	MetricBlendedCost   CostMetric = "BlendedCost"
)

// CostMetricPreference is the order in which cost bases are tried for a group.
var CostMetricPreference = []CostMetric{MetricUnblendedCost, MetricBlendedCost}

type awsReport struct {
	ResultsByTime []json.RawMessage `json:"ResultsByTime"`
}

type awsPeriod struct {
	TimePeriod struct {
		Start optString `json:"Start"`
	} `json:"TimePeriod"`
	Groups []json.RawMessage `json:"Groups"`
}

type awsGroup struct {
	Keys    []string                   `json:"Keys"`
	Metrics map[string]json.RawMessage `json:"Metrics"`
}

type awsMetric struct {
	Amount amount    `json:"Amount"`
	Unit   optString `json:"Unit"`
}

// AWS maps a Cost Explorer GetCostAndUsage document to rows, in period then group order.
// Absent or malformed input yields no rows. A malformed period or group is skipped
// without affecting its siblings; so is a group with neither unblended nor blended cost.
func AWS(doc []byte) []cloudspending.Row {
	rows := []cloudspending.Row{}
	if isNull(doc) {
		return rows
	}
	var report awsReport
	if err := json.Unmarshal(doc, &report); err != nil {
		return rows
	}

	for _, rawPeriod := range report.ResultsByTime {
		var period awsPeriod
		if err := json.Unmarshal(rawPeriod, &period); err != nil {
			continue
		}
		start := period.TimePeriod.Start.or("")
		if start == "" {
			continue
		}
		for _, rawGroup := range period.Groups {
			var group awsGroup
			if err := json.Unmarshal(rawGroup, &group); err != nil {
				continue
			}
			metric, ok := selectCostMetric(group.Metrics)
			if !ok {
				continue
			}
			rows = append(rows, cloudspending.Row{
				Provider:  cloudspending.ProviderAWS,
				Service:   awsService(group.Keys),
				Cost:      metric.Amount.decimal(),
				Timestamp: start,
				// Group keys are the dimension values (service name), not resource tags.
				// They land in the tags column to stay compatible with existing exports.
				Tags: joinKeys(group.Keys),
			})
		}
	}
	return rows
}

// selectCostMetric returns the first preferred metric present as a non-empty object.
func selectCostMetric(metrics map[string]json.RawMessage) (awsMetric, bool) {
	for _, name := range CostMetricPreference {
		raw, ok := metrics[string(name)]
		if !ok {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
			continue
		}
		var m awsMetric
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		return m, true
	}
	return awsMetric{}, false
}

func awsService(keys []string) string {
	if len(keys) == 0 || strings.TrimSpace(keys[0]) == "" {
		return cloudspending.UnknownService
	}
	return keys[0]
}
