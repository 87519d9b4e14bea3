package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/connectors/aws"
	"cloud-costs/connectors/azure"
	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
)

type fakeFetcher struct {
	doc        string
	err        error
	start, end time.Time
}

func (f *fakeFetcher) FetchCosts(_ context.Context, start, end time.Time) ([]byte, error) {
	f.start, f.end = start, end
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.doc), nil
}

type failingStore struct {
	*store.Memory
}

func (failingStore) UpsertRecords(context.Context, []cloudspending.Record) (int, error) {
	return 0, errors.New("connection refused")
}

const (
	awsDoc   = `{"ResultsByTime":[{"TimePeriod":{"Start":"2024-03-01"},"Groups":[{"Keys":["EC2"],"Metrics":{"UnblendedCost":{"Amount":"3"}}}]}]}`
	azureDoc = `{"value":[
		{"properties":{"serviceName":"Storage","cost":{"amount":5},"date":"2024-03-01"},"subscriptionId":"sub1","resourceGroup":"rg1","tags":{"env":"prod"}},
		{"properties":{"serviceName":"VM","cost":{"amount":1}}}
	]}`
)

var now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func azureConfig() config.Config {
	cfg := config.Default()
	cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret, cfg.Azure.SubscriptionID = "t", "c", "s", "sub"
	return cfg
}

func newTestRefresher(st cloudspending.Store, cfg config.Config, awsF, azureF *fakeFetcher) (*Refresher, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRefresher(st, cfg, m,
		WithAWS(func(context.Context, aws.Settings) (Fetcher, error) { return awsF, nil }),
		WithAzure(func(azure.Settings) Fetcher { return azureF }),
		WithClock(func() time.Time { return now }),
	)
	return r, m
}

func TestWindow(t *testing.T) {
	start, end := Window(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestRun_PersistsBothProviders(t *testing.T) {
	st := store.NewMemory()
	awsF, azureF := &fakeFetcher{doc: awsDoc}, &fakeFetcher{doc: azureDoc}
	r, m := newTestRefresher(st, azureConfig(), awsF, azureF)

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Persisted)
	assert.Equal(t, 1, res.Skipped, "Unknown Date cannot be persisted")
	assert.Empty(t, res.ProviderErrors)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), awsF.start)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), awsF.end)

	records, err := st.ListRecords(context.Background(), cloudspending.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cycles.WithLabelValues("ok")))
}

func TestRun_AWSFailureStillPersistsAzure(t *testing.T) {
	st := store.NewMemory()
	r, m := newTestRefresher(st, azureConfig(), &fakeFetcher{err: errors.New("ExpiredToken")}, &fakeFetcher{doc: azureDoc})

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Contains(t, res.ProviderErrors[cloudspending.ProviderAWS], "ExpiredToken")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchErrors.WithLabelValues("AWS")))

	records, err := st.ListRecords(context.Background(), cloudspending.Filter{Provider: cloudspending.ProviderAzure})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRun_StoreFailureIsReturned(t *testing.T) {
	r, m := newTestRefresher(failingStore{store.NewMemory()}, azureConfig(), &fakeFetcher{doc: awsDoc}, &fakeFetcher{doc: azureDoc})

	_, err := r.Run(context.Background())

	assert.ErrorContains(t, err, "failed to persist records")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cycles.WithLabelValues("error")))
}

func TestRun_NothingFetched(t *testing.T) {
	r, m := newTestRefresher(store.NewMemory(), azureConfig(), &fakeFetcher{err: errors.New("down")}, &fakeFetcher{doc: "{}"})

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Rows)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cycles.WithLabelValues("empty")))
}

func TestRun_StoredCredentialsWin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveCredential(ctx, &cloudspending.Credential{
		Provider: cloudspending.ProviderAWS, AWSAccessKeyID: "AKIASTORED", AWSSecretAccessKey: "s",
	}))
	require.NoError(t, st.SaveCredential(ctx, &cloudspending.Credential{
		Provider: cloudspending.ProviderAzure, AzureClientID: "stored-client", AzureClientSecret: "x",
		AzureTenantID: "tenant", AzureSubscriptionID: "sub-stored",
	}))

	var gotAWS aws.Settings
	var gotAzure azure.Settings
	cfg := config.Default()
	cfg.AWS.AccessKeyID = "AKIACONFIG"
	r := NewRefresher(st, cfg, nil,
		WithAWS(func(_ context.Context, s aws.Settings) (Fetcher, error) { gotAWS = s; return &fakeFetcher{doc: "{}"}, nil }),
		WithAzure(func(s azure.Settings) Fetcher { gotAzure = s; return &fakeFetcher{doc: "{}"} }),
	)

	_, err := r.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, "AKIASTORED", gotAWS.AccessKeyID)
	assert.Equal(t, "sub-stored", gotAzure.SubscriptionID)
}

func TestRun_AzureSkippedWithoutCredentials(t *testing.T) {
	azureF := &fakeFetcher{doc: azureDoc}
	r, _ := newTestRefresher(store.NewMemory(), config.Default(), &fakeFetcher{doc: awsDoc}, azureF)

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.True(t, azureF.start.IsZero(), "azure is not called")
}

func TestRun_LogAttributes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r, _ := newTestRefresher(store.NewMemory(), config.Default(), &fakeFetcher{err: errors.New("throttled")}, &fakeFetcher{})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	events := map[string]map[string]any{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		events[e["msg"].(string)] = e
	}
	require.Contains(t, events, "refresh.fetch.failed")
	assert.Equal(t, "throttled", events["refresh.fetch.failed"]["error"])
	assert.NotContains(t, events["refresh.fetch.failed"], "err")
	require.Contains(t, events, "refresh.azure.skipped")
	assert.Equal(t, "no azure credentials configured", events["refresh.azure.skipped"]["reason"])
	require.Contains(t, events, "refresh.empty")
	assert.Equal(t, "no data fetched to persist", events["refresh.empty"]["reason"])
}
