package cloudspending

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the cloud vendor a cost line comes from.
type Provider string

const (
	ProviderAWS   Provider = "AWS"
	ProviderAzure Provider = "Azure"
	ProviderGCP   Provider = "GCP"
)

// Placeholders used when a source omits a field.
const (
	UnknownService = "Unknown Service"
	UnknownDate    = "Unknown Date"
)

// TagSeparator joins tag keys (and AWS group keys) into the flat tags column.
const TagSeparator = ", "

// ParseProvider accepts provider names case-insensitively ("aws", "Azure", "GCP").
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aws":
		return ProviderAWS, true
	case "azure":
		return ProviderAzure, true
	case "gcp":
		return ProviderGCP, true
	}
	return "", false
}

// Row is a normalized cost line as produced by the normalizer.
// Timestamp is kept as the raw source string; it becomes a time.Time in Record.
type Row struct {
	Provider      Provider        `json:"provider"`
	Service       string          `json:"service"`
	Cost          decimal.Decimal `json:"cost"`
	Timestamp     string          `json:"timestamp"`
	Subscription  string          `json:"subscription"`
	ResourceGroup string          `json:"resource_group"`
	Tags          string          `json:"tags"`
}

// Record is a persisted Row with a parsed timestamp and a surrogate identifier.
type Record struct {
	ID            int64           `json:"id"`
	Provider      Provider        `json:"provider"`
	Service       string          `json:"service"`
	Cost          decimal.Decimal `json:"cost"`
	Timestamp     time.Time       `json:"timestamp"`
	Subscription  string          `json:"subscription"`
	ResourceGroup string          `json:"resource_group"`
	Tags          string          `json:"tags"`
}

// Key is the composite merge key of a Record.
type Key struct {
	Provider      Provider
	Service       string
	Timestamp     time.Time
	Subscription  string
	ResourceGroup string
}

func (r Record) Key() Key {
	return Key{
		Provider:      r.Provider,
		Service:       r.Service,
		Timestamp:     r.Timestamp.UTC(),
		Subscription:  r.Subscription,
		ResourceGroup: r.ResourceGroup,
	}
}

// Record converts the row into a storable record.
// It fails only when the timestamp cannot be parsed.
func (r Row) Record() (Record, error) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Provider:      r.Provider,
		Service:       r.Service,
		Cost:          r.Cost,
		Timestamp:     ts,
		Subscription:  r.Subscription,
		ResourceGroup: r.ResourceGroup,
		Tags:          r.Tags,
	}, nil
}

var timestampLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102",
}

// ParseTimestamp parses the date formats seen in provider exports (YYYY-MM-DD,
// YYYYMMDD, RFC3339 and its zone-less variants). Results are in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	// Azure occasionally renders UsageDate as a float (20240201.0).
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if t, err := time.Parse("20060102", strconv.FormatInt(int64(f), 10)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Credential holds provider secrets. The latest saved credential for a provider wins.
type Credential struct {
	ID                  string    `json:"id"`
	Provider            Provider  `json:"provider"`
	AWSAccessKeyID      string    `json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey  string    `json:"aws_secret_access_key,omitempty"`
	AzureClientID       string    `json:"azure_client_id,omitempty"`
	AzureClientSecret   string    `json:"azure_client_secret,omitempty"`
	AzureTenantID       string    `json:"azure_tenant_id,omitempty"`
	AzureSubscriptionID string    `json:"azure_subscription_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Masked returns a copy safe to display: secrets keep only their last 4 characters.
func (c Credential) Masked() Credential {
	c.AWSSecretAccessKey = mask(c.AWSSecretAccessKey)
	c.AzureClientSecret = mask(c.AzureClientSecret)
	return c
}

// Validate checks that the fields the provider needs are present.
func (c Credential) Validate() error {
	var missing []string
	need := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	switch c.Provider {
	case ProviderAWS:
		need(c.AWSAccessKeyID, "aws_access_key_id")
		need(c.AWSSecretAccessKey, "aws_secret_access_key")
	case ProviderAzure:
		need(c.AzureClientID, "azure_client_id")
		need(c.AzureClientSecret, "azure_client_secret")
		need(c.AzureTenantID, "azure_tenant_id")
		need(c.AzureSubscriptionID, "azure_subscription_id")
	default:
		return fmt.Errorf("credentials are not supported for provider %q", c.Provider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s for %s", strings.Join(missing, ", "), c.Provider)
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
