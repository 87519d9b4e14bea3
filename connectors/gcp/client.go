package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"cloud-costs/domain/config"
)

const bigQueryScope = "https://www.googleapis.com/auth/bigquery.readonly"

// Client queries a BigQuery billing export. It is the GCP ingestion path and is off unless configured.
type Client struct {
	projectID  string
	table      string
	baseURL    string
	httpClient *http.Client
}

// NewClient authenticates with a service account key (JSON content).
func NewClient(ctx context.Context, c config.GCP) (*Client, error) {
	creds, err := google.CredentialsFromJSON(ctx, []byte(c.ServiceAccountJSON), bigQueryScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
	}
	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	httpClient.Timeout = 30 * time.Second
	return NewClientWithHTTP(c.ProjectID, c.Table, c.BigQueryURL, httpClient)
}

// NewClientWithHTTP uses an already authenticated HTTP client.
func NewClientWithHTTP(projectID, table, baseURL string, httpClient *http.Client) (*Client, error) {
	if strings.ContainsAny(table, "`;") || table == "" {
		return nil, fmt.Errorf("invalid billing export table %q", table)
	}
	if baseURL == "" {
		baseURL = "https://bigquery.googleapis.com"
	}
	return &Client{projectID: projectID, table: table, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

// bigQueryRequest represents a BigQuery jobs.query request
type bigQueryRequest struct {
	Query           string           `json:"query"`
	UseLegacySQL    bool             `json:"useLegacySql"`
	ParameterMode   string           `json:"parameterMode"`
	QueryParameters []queryParameter `json:"queryParameters"`
	MaxResults      int              `json:"maxResults,omitempty"`
	TimeoutMs       int              `json:"timeoutMs,omitempty"`
}

type queryParameter struct {
	Name           string         `json:"name"`
	ParameterType  parameterType  `json:"parameterType"`
	ParameterValue parameterValue `json:"parameterValue"`
}

type parameterType struct {
	Type string `json:"type"`
}

type parameterValue struct {
	Value string `json:"value"`
}

func dateParam(name string, t time.Time) queryParameter {
	return queryParameter{
		Name:           name,
		ParameterType:  parameterType{Type: "DATE"},
		ParameterValue: parameterValue{Value: t.Format(time.DateOnly)},
	}
}

// FetchCosts returns daily cost per service and project in [start, end) as one
// query result document. It waits for the job to complete and follows every result page.
func (c *Client) FetchCosts(ctx context.Context, start, end time.Time) ([]byte, error) {
	query := fmt.Sprintf(`
		SELECT
			FORMAT_DATE('%%Y-%%m-%%d', DATE(usage_start_time)) AS usage_date,
			service.description AS service_name,
			SUM(cost) AS total_cost,
			project.id AS project_id
		FROM
			`+"`%s`"+`
		WHERE
			DATE(usage_start_time) >= @start AND DATE(usage_start_time) < @end
		GROUP BY
			usage_date, service_name, project_id
		ORDER BY
			usage_date, service_name
	`, c.table)

	reqBody := bigQueryRequest{
		Query:           query,
		UseLegacySQL:    false,
		ParameterMode:   "NAMED",
		QueryParameters: []queryParameter{dateParam("start", start), dateParam("end", end)},
		MaxResults:      10000,
		TimeoutMs:       30000,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bigquery/v2/projects/%s/queries", c.baseURL, url.PathEscape(c.projectID))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	page, err := c.do(req)
	if err != nil {
		return nil, err
	}

	result := queryResult{Schema: page.Schema}
	complete := page.complete()
	if complete {
		result.Rows = append(result.Rows, page.Rows...)
	}
	pages := 1
	for !complete || page.PageToken != "" {
		if page.JobReference.JobID == "" {
			return nil, fmt.Errorf("query result is incomplete and has no job reference")
		}
		next, err := c.queryResults(ctx, page.JobReference, page.PageToken)
		if err != nil {
			return nil, err
		}
		page = next
		if !page.complete() {
			continue
		}
		complete = true
		pages++
		if len(result.Schema) == 0 {
			result.Schema = page.Schema
		}
		result.Rows = append(result.Rows, page.Rows...)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	slog.Info("gcp.fetch.done", "rows", len(result.Rows), "pages", pages, "bytes", len(body))
	return body, nil
}

// queryResponse is the part of a jobs.query or jobs.getQueryResults response the client reads.
type queryResponse struct {
	Schema       json.RawMessage   `json:"schema"`
	Rows         []json.RawMessage `json:"rows"`
	JobComplete  *bool             `json:"jobComplete"`
	PageToken    string            `json:"pageToken"`
	JobReference jobReference      `json:"jobReference"`
}

// complete treats a response without the jobComplete field as finished.
func (r queryResponse) complete() bool {
	return r.JobComplete == nil || *r.JobComplete
}

type jobReference struct {
	ProjectID string `json:"projectId"`
	JobID     string `json:"jobId"`
	Location  string `json:"location"`
}

// queryResult is the merged document handed to the normalizer.
type queryResult struct {
	Schema json.RawMessage   `json:"schema,omitempty"`
	Rows   []json.RawMessage `json:"rows"`
}

// queryResults polls jobs.getQueryResults until the job completes, then returns the page at token.
func (c *Client) queryResults(ctx context.Context, ref jobReference, token string) (queryResponse, error) {
	project := ref.ProjectID
	if project == "" {
		project = c.projectID
	}
	q := url.Values{}
	q.Set("maxResults", "10000")
	q.Set("timeoutMs", "30000")
	if ref.Location != "" {
		q.Set("location", ref.Location)
	}
	if token != "" {
		q.Set("pageToken", token)
	}
	endpoint := fmt.Sprintf("%s/bigquery/v2/projects/%s/queries/%s?%s",
		c.baseURL, url.PathEscape(project), url.PathEscape(ref.JobID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return queryResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (queryResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return queryResponse{}, fmt.Errorf("failed to fetch costs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return queryResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return queryResponse{}, fmt.Errorf("API request failed: %d %s", resp.StatusCode, string(body))
	}
	var page queryResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return queryResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return page, nil
}
