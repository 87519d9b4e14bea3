package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/recommend"
	"cloud-costs/pipeline"
)

type stubRefresher struct {
	calls int
	err   error
}

func (s *stubRefresher) Run(context.Context) (pipeline.Result, error) {
	s.calls++
	return pipeline.Result{Rows: 2, Persisted: 2}, s.err
}

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	_, err := st.UpsertRecords(context.Background(), []cloudspending.Record{
		{Provider: cloudspending.ProviderAWS, Service: "AmazonEC2", Cost: decimal.NewFromInt(30), Timestamp: day(1), Tags: "AmazonEC2"},
		{Provider: cloudspending.ProviderAWS, Service: "AmazonEC2", Cost: decimal.NewFromInt(30), Timestamp: day(2), Tags: "AmazonEC2"},
		{Provider: cloudspending.ProviderAzure, Service: "Storage", Cost: decimal.NewFromInt(10), Timestamp: day(2), Subscription: "sub1", ResourceGroup: "rg1"},
	})
	require.NoError(t, err)
	return st
}

func newServer(t *testing.T, st cloudspending.Store, r pipeline.Runner) http.Handler {
	t.Helper()
	return New(Deps{Store: st, Refresher: r, Recommend: recommend.DefaultOptions()})
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCosts_Filters(t *testing.T) {
	h := newServer(t, seeded(t), nil)

	rec := get(h, "/api/costs?provider=azure")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []cloudspending.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Storage", got[0].Service)

	rec = get(h, "/api/costs?start=2024-03-02&end=2024-03-02")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestCosts_BadFilter(t *testing.T) {
	h := newServer(t, seeded(t), nil)

	for _, target := range []string{
		"/api/costs?start=03/01/2024",
		"/api/costs/services?end=tomorrow",
		"/api/costs?provider=oracle",
		"/api/costs?start=2024-03-05&end=2024-03-01",
	} {
		rec := get(h, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "invalid filter", target)
	}
}

func TestServicesAndDaily(t *testing.T) {
	h := newServer(t, seeded(t), nil)

	rec := get(h, "/api/costs/services")
	require.Equal(t, http.StatusOK, rec.Code)
	var services servicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &services))
	assert.Equal(t, "70", services.Total.String())
	require.Len(t, services.Services, 2)
	assert.Equal(t, "AmazonEC2", services.Services[0].Service)

	rec = get(h, "/api/costs/daily")
	require.Equal(t, http.StatusOK, rec.Code)
	var daily []cloudspending.DailyCost
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
	assert.Len(t, daily, 3)
}

func TestRecommendations(t *testing.T) {
	rec := get(newServer(t, seeded(t), nil), "/api/recommendations")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []recommend.Recommendation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got)
	assert.Equal(t, recommend.Concentration, got[0].Kind)
	assert.Equal(t, "AmazonEC2", got[0].Service)
}

func TestExportCSV(t *testing.T) {
	rec := get(newServer(t, seeded(t), nil), "/api/export.csv?provider=azure")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t,
		"provider,service,cost,timestamp,subscription,resource_group,tags\n"+
			"Azure,Storage,10,2024-03-02,sub1,rg1,\n",
		rec.Body.String())
}

func multipartUpload(t *testing.T, provider, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("provider", provider))
	fw, err := w.CreateFormFile("file", "costs.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	st := store.NewMemory()
	h := newServer(t, st, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "aws",
		`{"ResultsByTime":[{"TimePeriod":{"Start":"2024-01-01"},"Groups":[{"Keys":["AmazonEC2"],"Metrics":{"UnblendedCost":{"Amount":"12.5"}}}]}]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res pipeline.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.IngestResult{Encoding: "utf-8-sig", Rows: 1, Persisted: 1}, res)

	records, err := st.ListRecords(context.Background(), cloudspending.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "12.5", records[0].Cost.String())
}

func TestUpload_Rejects(t *testing.T) {
	h := newServer(t, store.NewMemory(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "aws", "this is not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "oracle", "{}"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentials_SaveAndShowMasked(t *testing.T) {
	h := newServer(t, store.NewMemory(), nil)

	rec := get(h, "/api/credentials/azure")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	payload := `{"provider":"azure","azure_client_id":"cid","azure_client_secret":"verysecretvalue","azure_tenant_id":"tid","azure_subscription_id":"sub"}`
	req := httptest.NewRequest(http.MethodPost, "/api/credentials", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "verysecretvalue")

	rec = get(h, "/api/credentials/Azure")
	require.Equal(t, http.StatusOK, rec.Code)
	var got cloudspending.Credential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cid", got.AzureClientID)
	assert.Equal(t, "***********alue", got.AzureClientSecret)
}

func TestCredentials_Incomplete(t *testing.T) {
	h := newServer(t, store.NewMemory(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/credentials", strings.NewReader(`{"provider":"aws","aws_access_key_id":"AKIA"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "aws_secret_access_key")
}

func TestRefresh(t *testing.T) {
	r := &stubRefresher{}
	h := newServer(t, store.NewMemory(), r)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("failed to persist records: down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newServer(t, store.NewMemory(), nil)

	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cloud_costs_http_requests_total")
}

func TestDashboard(t *testing.T) {
	h := newServer(t, seeded(t), nil)

	rec := get(h, "/?provider=aws")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "AmazonEC2")
	assert.Contains(t, body, "60.00")
	assert.Contains(t, body, "2024-03-01")
	assert.NotContains(t, body, "Storage")

	rec = get(h, "/?start=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid filter")

	rec = get(newServer(t, store.NewMemory(), nil), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No cost data for the selected filters.")
}
