package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"cloud-costs/domain/config"
)

const apiVersion = "2023-03-01"

// Settings are the resolved inputs of an Azure fetch.
type Settings struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
	Timeframe      string
	Granularity    string
	LoginURL       string
	ManagementURL  string
}

// SettingsFromConfig copies the Azure section of the configuration.
func SettingsFromConfig(c config.Azure) Settings {
	return Settings{
		SubscriptionID: c.SubscriptionID,
		TenantID:       c.TenantID,
		ClientID:       c.ClientID,
		ClientSecret:   c.ClientSecret,
		Timeframe:      c.Timeframe,
		Granularity:    c.Granularity,
		LoginURL:       c.LoginURL,
		ManagementURL:  c.ManagementURL,
	}
}

// Client handles Azure Cost Management API requests.
type Client struct {
	settings   Settings
	httpClient *http.Client
}

// NewClient creates a Cost Management client authenticated with the client-credentials flow.
// Tokens are fetched and refreshed by the oauth2 transport.
func NewClient(s Settings) *Client {
	if s.LoginURL == "" {
		s.LoginURL = "https://login.microsoftonline.com"
	}
	if s.ManagementURL == "" {
		s.ManagementURL = "https://management.azure.com"
	}
	cc := clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(s.LoginURL, "/"), s.TenantID),
		Scopes:       []string{strings.TrimRight(s.ManagementURL, "/") + "/.default"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	base := &http.Client{Timeout: 30 * time.Second}
	httpClient := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	httpClient.Timeout = 30 * time.Second
	return &Client{settings: s, httpClient: httpClient}
}

// costQueryRequest represents the request body for the Cost Management Query API
type costQueryRequest struct {
	Type       string         `json:"type"`
	Timeframe  string         `json:"timeframe"`
	TimePeriod *timePeriod    `json:"timePeriod,omitempty"`
	Dataset    datasetRequest `json:"dataset"`
}

type timePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type datasetRequest struct {
	Granularity string            `json:"granularity"`
	Aggregation map[string]aggDef `json:"aggregation"`
	Grouping    []groupingDef     `json:"grouping"`
}

type aggDef struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

type groupingDef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// queryPage is the part of a response needed to merge pages.
type queryPage struct {
	Properties struct {
		NextLink *string           `json:"nextLink"`
		Columns  json.RawMessage   `json:"columns"`
		Rows     []json.RawMessage `json:"rows"`
	} `json:"properties"`
}

// FetchCosts queries daily cost grouped by service, subscription and resource group and returns
// the response document. With timeframe Custom the [start, end] window is sent; otherwise the
// configured timeframe (MonthToDate by default) applies. Pages behind nextLink are merged.
func (c *Client) FetchCosts(ctx context.Context, start, end time.Time) ([]byte, error) {
	reqBody := costQueryRequest{
		Type:      "Usage",
		Timeframe: c.settings.Timeframe,
		Dataset: datasetRequest{
			Granularity: c.settings.Granularity,
			Aggregation: map[string]aggDef{
				"totalCost": {Name: "Cost", Function: "Sum"},
			},
			Grouping: []groupingDef{
				{Type: "Dimension", Name: "ServiceName"},
				{Type: "Dimension", Name: "SubscriptionId"},
				{Type: "Dimension", Name: "ResourceGroup"},
			},
		},
	}
	if reqBody.Timeframe == "" {
		reqBody.Timeframe = "MonthToDate"
	}
	if reqBody.Dataset.Granularity == "" {
		reqBody.Dataset.Granularity = "Daily"
	}
	if strings.EqualFold(reqBody.Timeframe, "Custom") {
		reqBody.TimePeriod = &timePeriod{From: start.Format(time.DateOnly), To: end.Format(time.DateOnly)}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		strings.TrimRight(c.settings.ManagementURL, "/"), c.settings.SubscriptionID, apiVersion)

	var merged queryPage
	var first []byte
	for page := 1; url != ""; page++ {
		body, err := c.post(ctx, url, jsonData)
		if err != nil {
			return nil, err
		}
		var p queryPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode response page %d: %w", page, err)
		}
		if page == 1 {
			first = body
			merged.Properties.Columns = p.Properties.Columns
		}
		merged.Properties.Rows = append(merged.Properties.Rows, p.Properties.Rows...)
		url = ""
		if p.Properties.NextLink != nil {
			url = *p.Properties.NextLink
		}
		if page == 1 && url == "" {
			// single page: hand back the body untouched
			slog.Info("azure.fetch.done", "rows", len(merged.Properties.Rows), "pages", page)
			return first, nil
		}
	}
	slog.Info("azure.fetch.done", "rows", len(merged.Properties.Rows))

	if merged.Properties.Rows == nil {
		merged.Properties.Rows = []json.RawMessage{}
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged pages: %w", err)
	}
	return b, nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch costs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed: %d %s", resp.StatusCode, string(body))
	}
	return body, nil
}
