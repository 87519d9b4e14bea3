// Package pipeline runs the fetch, normalize and persist cycle and schedules it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cloud-costs/connectors/aws"
	"cloud-costs/connectors/azure"
	"cloud-costs/connectors/gcp"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
	"cloud-costs/domain/normalize"
)

// Fetcher returns one provider-native cost document for [start, end).
type Fetcher interface {
	FetchCosts(ctx context.Context, start, end time.Time) ([]byte, error)
}

type (
	AWSFactory   func(ctx context.Context, s aws.Settings) (Fetcher, error)
	AzureFactory func(s azure.Settings) Fetcher
	GCPFactory   func(ctx context.Context, c config.GCP) (Fetcher, error)
)

// Result summarizes one cycle.
type Result struct {
	ID             uuid.UUID                         `json:"id"`
	StartedAt      time.Time                         `json:"started_at"`
	WindowStart    time.Time                         `json:"window_start"`
	WindowEnd      time.Time                         `json:"window_end"`
	Rows           int                               `json:"rows"`
	Persisted      int                               `json:"persisted"`
	Skipped        int                               `json:"skipped"`
	ProviderErrors map[cloudspending.Provider]string `json:"provider_errors,omitempty"`
}

// Refresher runs refresh cycles. Cycles never overlap.
type Refresher struct {
	store    cloudspending.Store
	cfg      config.Config
	metrics  *Metrics
	newAWS   AWSFactory
	newAzure AzureFactory
	newGCP   GCPFactory
	now      func() time.Time
	mu       sync.Mutex
}

type Option func(*Refresher)

func WithAWS(f AWSFactory) Option     { return func(r *Refresher) { r.newAWS = f } }
func WithAzure(f AzureFactory) Option { return func(r *Refresher) { r.newAzure = f } }
func WithGCP(f GCPFactory) Option     { return func(r *Refresher) { r.newGCP = f } }
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

func NewRefresher(store cloudspending.Store, cfg config.Config, metrics *Metrics, opts ...Option) *Refresher {
	r := &Refresher{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		newAWS: func(ctx context.Context, s aws.Settings) (Fetcher, error) {
			return aws.NewClient(ctx, s)
		},
		newAzure: func(s azure.Settings) Fetcher { return azure.NewClient(s) },
		newGCP: func(ctx context.Context, c config.GCP) (Fetcher, error) {
			return gcp.NewClient(ctx, c)
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Window is the fetch range for a cycle started at now: the first day of the month up to tomorrow.
func Window(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return start, end
}

// Run executes one cycle. Provider failures are absorbed and reported in the result;
// a store failure aborts the cycle and is returned.
func (r *Refresher) Run(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now()
	res := Result{ID: uuid.New(), StartedAt: started, ProviderErrors: map[cloudspending.Provider]string{}}
	res.WindowStart, res.WindowEnd = Window(started)
	log := slog.With("cycle", res.ID.String())
	log.Info("refresh.start", "window_start", res.WindowStart.Format(time.DateOnly), "window_end", res.WindowEnd.Format(time.DateOnly))
	defer func() {
		if r.metrics != nil {
			r.metrics.CycleDuration.Observe(r.now().Sub(started).Seconds())
		}
	}()

	var (
		g                        errgroup.Group
		awsDoc, azureDoc, gcpDoc []byte
		awsErr, azureErr, gcpErr error
	)
	g.Go(func() error {
		awsDoc, awsErr = r.fetchAWS(ctx, res.WindowStart, res.WindowEnd)
		return nil
	})
	g.Go(func() error {
		azureDoc, azureErr = r.fetchAzure(ctx, res.WindowStart, res.WindowEnd)
		return nil
	})
	if r.cfg.GCP.Enabled {
		g.Go(func() error {
			gcpDoc, gcpErr = r.fetchGCP(ctx, res.WindowStart, res.WindowEnd)
			return nil
		})
	}
	_ = g.Wait()

	for p, err := range map[cloudspending.Provider]error{
		cloudspending.ProviderAWS:   awsErr,
		cloudspending.ProviderAzure: azureErr,
		cloudspending.ProviderGCP:   gcpErr,
	} {
		if err == nil {
			continue
		}
		res.ProviderErrors[p] = err.Error()
		log.Error("refresh.fetch.failed", "provider", p, "error", err)
		if r.metrics != nil {
			r.metrics.FetchErrors.WithLabelValues(string(p)).Inc()
		}
	}

	rows := normalize.Assemble(awsDoc, azureDoc)
	rows = append(rows, normalize.GCP(gcpDoc)...)
	res.Rows = len(rows)
	if len(rows) == 0 {
		log.Info("refresh.empty", "reason", "no data fetched to persist")
		r.count("empty")
		return res, nil
	}

	records, skipped := ToRecords(rows)
	res.Skipped = skipped
	n, err := r.store.UpsertRecords(ctx, records)
	if err != nil {
		r.count("error")
		return res, fmt.Errorf("failed to persist records: %w", err)
	}
	res.Persisted = n
	if r.metrics != nil {
		r.metrics.Rows.WithLabelValues("persisted").Add(float64(n))
		r.metrics.Rows.WithLabelValues("skipped").Add(float64(skipped))
	}
	r.count("ok")
	log.Info("refresh.done", "rows", res.Rows, "persisted", n, "skipped", skipped, "provider_errors", len(res.ProviderErrors))
	return res, nil
}

func (r *Refresher) count(status string) {
	if r.metrics != nil {
		r.metrics.Cycles.WithLabelValues(status).Inc()
	}
}

func (r *Refresher) fetchAWS(ctx context.Context, start, end time.Time) ([]byte, error) {
	s := aws.SettingsFromConfig(r.cfg.AWS)
	if c, ok := r.latestCredential(ctx, cloudspending.ProviderAWS); ok && c.AWSAccessKeyID != "" {
		s.AccessKeyID, s.SecretAccessKey = c.AWSAccessKeyID, c.AWSSecretAccessKey
	}
	client, err := r.newAWS(ctx, s)
	if err != nil {
		return nil, err
	}
	return client.FetchCosts(ctx, start, end)
}

func (r *Refresher) fetchAzure(ctx context.Context, start, end time.Time) ([]byte, error) {
	s := azure.SettingsFromConfig(r.cfg.Azure)
	if c, ok := r.latestCredential(ctx, cloudspending.ProviderAzure); ok {
		s.ClientID, s.ClientSecret = c.AzureClientID, c.AzureClientSecret
		s.TenantID, s.SubscriptionID = c.AzureTenantID, c.AzureSubscriptionID
	}
	if s.ClientID == "" || s.ClientSecret == "" || s.TenantID == "" || s.SubscriptionID == "" {
		slog.Info("refresh.azure.skipped", "reason", "no azure credentials configured")
		return nil, nil
	}
	return r.newAzure(s).FetchCosts(ctx, start, end)
}

func (r *Refresher) fetchGCP(ctx context.Context, start, end time.Time) ([]byte, error) {
	client, err := r.newGCP(ctx, r.cfg.GCP)
	if err != nil {
		return nil, err
	}
	return client.FetchCosts(ctx, start, end)
}

// latestCredential looks up a stored credential. Lookup failures other than
// not-found are logged and the configuration is used instead.
func (r *Refresher) latestCredential(ctx context.Context, p cloudspending.Provider) (cloudspending.Credential, bool) {
	c, err := r.store.LatestCredential(ctx, p)
	switch {
	case err == nil:
		return c, true
	case errors.Is(err, cloudspending.ErrNotFound):
	default:
		slog.Warn("refresh.credentials.lookup.failed", "provider", p, "error", err)
	}
	return cloudspending.Credential{}, false
}
