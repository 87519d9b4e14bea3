package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloud-costs/domain/cloudspending"
)

// Memory is a process-local Store. Data is lost on exit.
type Memory struct {
	mu          sync.RWMutex
	nextID      int64
	records     []cloudspending.Record
	byKey       map[cloudspending.Key]int
	credentials []cloudspending.Credential
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{byKey: map[cloudspending.Key]int{}, now: time.Now}
}

func (m *Memory) UpsertRecords(ctx context.Context, records []cloudspending.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Timestamp = r.Timestamp.UTC()
		if i, ok := m.byKey[r.Key()]; ok {
			m.records[i].Cost = r.Cost
			m.records[i].Tags = r.Tags
			continue
		}
		m.nextID++
		r.ID = m.nextID
		m.byKey[r.Key()] = len(m.records)
		m.records = append(m.records, r)
	}
	return len(records), nil
}

func (m *Memory) ListRecords(ctx context.Context, f cloudspending.Filter) ([]cloudspending.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := f.Apply(m.records)
	m.mu.RUnlock()
	SortRecords(out)
	return out, nil
}

func (m *Memory) SaveCredential(ctx context.Context, c *cloudspending.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials = append(m.credentials, *c)
	return nil
}

func (m *Memory) LatestCredential(ctx context.Context, p cloudspending.Provider) (cloudspending.Credential, error) {
	if err := ctx.Err(); err != nil {
		return cloudspending.Credential{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest cloudspending.Credential
		found  bool
	)
	for _, c := range m.credentials {
		// later saves win ties on created_at
		if c.Provider == p && (!found || !c.CreatedAt.Before(latest.CreatedAt)) {
			latest, found = c, true
		}
	}
	if !found {
		return cloudspending.Credential{}, cloudspending.ErrNotFound
	}
	return latest, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }

// SortRecords orders records by timestamp, then provider, service, subscription and resource group.
func SortRecords(records []cloudspending.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Subscription != b.Subscription {
			return a.Subscription < b.Subscription
		}
		return a.ResourceGroup < b.ResourceGroup
	})
}
