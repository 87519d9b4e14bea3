package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"cloud-costs/domain/cloudspending"
)

// azureShape is one of the recognized Azure cost layouts. The set is closed:
// valueList, tabularRows, or unrecognized.
type azureShape interface {
	rows() []cloudspending.Row
	azureShape()
}

// valueList is the list-of-records layout: {"value": [{properties, subscriptionId, ...}]}.
type valueList struct {
	records []json.RawMessage
}

// tabularRows is the Cost Management Query layout: {"properties": {"columns": [...], "rows": [[...]]}}.
// Columns may be absent, in which case rows are read positionally.
type tabularRows struct {
	columns []azureColumn
	data    []json.RawMessage
}

type unrecognized struct{}

func (valueList) azureShape()    {}
func (tabularRows) azureShape()  {}
func (unrecognized) azureShape() {}

type azureColumn struct {
	Name optString `json:"name"`
	Type optString `json:"type"`
}

// Azure maps an Azure cost document to rows. Unknown, empty or invalid documents yield no rows.
func Azure(doc []byte) []cloudspending.Row {
	return detectAzureShape(doc).rows()
}

// detectAzureShape picks the layout: a "value" key wins, then "properties.rows".
func detectAzureShape(doc []byte) azureShape {
	if isNull(doc) {
		return unrecognized{}
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(doc, &root); err != nil || root == nil {
		return unrecognized{}
	}

	if raw, ok := root["value"]; ok {
		var records []json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			return unrecognized{}
		}
		return valueList{records: records}
	}

	rawProps, ok := root["properties"]
	if !ok {
		return unrecognized{}
	}
	var props map[string]json.RawMessage
	if err := json.Unmarshal(rawProps, &props); err != nil {
		return unrecognized{}
	}
	rawRows, ok := props["rows"]
	if !ok {
		return unrecognized{}
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(rawRows, &rows); err != nil {
		return unrecognized{}
	}
	var columns []azureColumn
	if rawCols, ok := props["columns"]; ok {
		if err := json.Unmarshal(rawCols, &columns); err != nil {
			columns = nil
		}
	}
	return tabularRows{columns: columns, data: rows}
}

func (unrecognized) rows() []cloudspending.Row {
	return []cloudspending.Row{}
}

type azureRecord struct {
	Properties     azureProperties `json:"properties"`
	SubscriptionID optString       `json:"subscriptionId"`
	ResourceGroup  optString       `json:"resourceGroup"`
	Tags           json.RawMessage `json:"tags"`
}

type azureProperties struct {
	ServiceName optString `json:"serviceName"`
	Cost        azureCost `json:"cost"`
	Date        optString `json:"date"`
}

// UnmarshalJSON keeps defaults when properties is not an object.
func (p *azureProperties) UnmarshalJSON(b []byte) error {
	type plain azureProperties
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	*p = azureProperties(v)
	return nil
}

type azureCost struct {
	Amount amount `json:"amount"`
}

// UnmarshalJSON keeps a zero amount when cost is not an object.
func (c *azureCost) UnmarshalJSON(b []byte) error {
	type plain azureCost
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	*c = azureCost(v)
	return nil
}

func (s valueList) rows() []cloudspending.Row {
	rows := make([]cloudspending.Row, 0, len(s.records))
	for _, raw := range s.records {
		if isNull(raw) {
			continue
		}
		var rec azureRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// not an object
			continue
		}
		rows = append(rows, cloudspending.Row{
			Provider:      cloudspending.ProviderAzure,
			Service:       rec.Properties.ServiceName.or(cloudspending.UnknownService),
			Cost:          rec.Properties.Cost.Amount.decimal(),
			Timestamp:     rec.Properties.Date.or(cloudspending.UnknownDate),
			Subscription:  rec.SubscriptionID.or(""),
			ResourceGroup: rec.ResourceGroup.or(""),
			Tags:          joinKeys(objectKeys(rec.Tags)),
		})
	}
	return rows
}

// columnIndex locates row fields by column name. -1 means the column is absent.
type columnIndex struct {
	cost, service, date, subscription, resourceGroup, tags int
}

// positional is the layout of rows without column metadata: [service, amount, date, tags].
var positional = columnIndex{service: 0, cost: 1, date: 2, tags: 3, subscription: -1, resourceGroup: -1}

// indexColumns maps known column names to positions. It reports false when no
// cost column is present, so the caller falls back to the positional layout.
func indexColumns(columns []azureColumn) (columnIndex, bool) {
	idx := columnIndex{-1, -1, -1, -1, -1, -1}
	for i, col := range columns {
		switch strings.ToLower(col.Name.Value) {
		case "cost", "pretaxcost", "costusd":
			if idx.cost == -1 {
				idx.cost = i
			}
		case "servicename":
			idx.service = i
		case "usagedate", "billingmonth", "date":
			if idx.date == -1 {
				idx.date = i
			}
		case "subscriptionid", "subscriptionguid":
			idx.subscription = i
		case "resourcegroup", "resourcegroupname":
			idx.resourceGroup = i
		case "tags":
			idx.tags = i
		}
	}
	return idx, idx.cost != -1
}

func (s tabularRows) rows() []cloudspending.Row {
	idx, named := indexColumns(s.columns)
	if !named {
		idx = positional
	}

	rows := make([]cloudspending.Row, 0, len(s.data))
	for _, raw := range s.data {
		if isNull(raw) {
			continue
		}
		var cells []json.RawMessage
		if err := json.Unmarshal(raw, &cells); err != nil {
			continue
		}
		cell := func(i int) json.RawMessage {
			if i < 0 || i >= len(cells) {
				return nil
			}
			return cells[i]
		}

		var service, sub, rg optString
		var cost amount
		_ = json.Unmarshal(orNull(cell(idx.service)), &service)
		_ = json.Unmarshal(orNull(cell(idx.cost)), &cost)
		_ = json.Unmarshal(orNull(cell(idx.subscription)), &sub)
		_ = json.Unmarshal(orNull(cell(idx.resourceGroup)), &rg)

		var tags []string
		if named {
			tags = columnTagKeys(cell(idx.tags))
		} else {
			tags = objectKeys(cell(idx.tags))
		}

		rows = append(rows, cloudspending.Row{
			Provider:      cloudspending.ProviderAzure,
			Service:       service.or(cloudspending.UnknownService),
			Cost:          cost.decimal(),
			Timestamp:     dateText(cell(idx.date)),
			Subscription:  sub.or(""),
			ResourceGroup: rg.or(""),
			Tags:          joinKeys(tags),
		})
	}
	return rows
}

// dateText renders a date cell. Numbers such as 20240201 or 20240201.0 become "20240201".
func dateText(raw json.RawMessage) string {
	var d optString
	_ = json.Unmarshal(orNull(raw), &d)
	v := d.or(cloudspending.UnknownDate)
	if f, err := strconv.ParseFloat(v, 64); err == nil && !strings.ContainsAny(v, "-:T") {
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return v
}

// columnTagKeys reads a Tags column, which is either an object or a list of "key:value" strings.
func columnTagKeys(raw json.RawMessage) []string {
	if keys := objectKeys(raw); keys != nil {
		return keys
	}
	var pairs []string
	if err := json.Unmarshal(orNull(raw), &pairs); err != nil {
		return nil
	}
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		k, _, _ := strings.Cut(p, ":")
		if k = strings.Trim(strings.TrimSpace(k), `"`); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
