package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
)

var day = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func record(service string, cost string, ts time.Time) cloudspending.Record {
	return cloudspending.Record{
		Provider: cloudspending.ProviderAzure, Service: service, Cost: decimal.RequireFromString(cost),
		Timestamp: ts, Subscription: "sub1", ResourceGroup: "rg1", Tags: "env",
	}
}

func TestMemory_UpsertReplacesOnEqualKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.UpsertRecords(ctx, []cloudspending.Record{record("Storage", "5", day), record("VM", "1", day)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	updated := record("Storage", "7.5", day)
	updated.Tags = "env, team"
	_, err = m.UpsertRecords(ctx, []cloudspending.Record{updated})
	require.NoError(t, err)

	got, err := m.ListRecords(ctx, cloudspending.Filter{Service: "Storage"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7.5", got[0].Cost.String())
	assert.Equal(t, "env, team", got[0].Tags)
	assert.Equal(t, int64(1), got[0].ID, "replacement keeps the surrogate id")
}

func TestMemory_ListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.UpsertRecords(ctx, []cloudspending.Record{
		record("VM", "1", day.AddDate(0, 0, 2)),
		record("VM", "2", day),
		record("Storage", "3", day.AddDate(0, 0, 1)),
	})
	require.NoError(t, err)

	got, err := m.ListRecords(ctx, cloudspending.Filter{Start: day.AddDate(0, 0, 1), End: day.AddDate(0, 0, 2)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Storage", got[0].Service)
	assert.Equal(t, "VM", got[1].Service)

	all, err := m.ListRecords(ctx, cloudspending.Filter{})
	require.NoError(t, err)
	assert.True(t, all[0].Timestamp.Equal(day))
}

func TestMemory_LatestCredentialWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.LatestCredential(ctx, cloudspending.ProviderAWS)
	assert.ErrorIs(t, err, cloudspending.ErrNotFound)

	first := &cloudspending.Credential{Provider: cloudspending.ProviderAWS, AWSAccessKeyID: "AKIA1", CreatedAt: day}
	second := &cloudspending.Credential{Provider: cloudspending.ProviderAWS, AWSAccessKeyID: "AKIA2", CreatedAt: day.Add(time.Hour)}
	other := &cloudspending.Credential{Provider: cloudspending.ProviderAzure, AzureClientID: "c", CreatedAt: day.Add(2 * time.Hour)}
	for _, c := range []*cloudspending.Credential{first, second, other} {
		require.NoError(t, m.SaveCredential(ctx, c))
		assert.NotEmpty(t, c.ID)
	}

	got, err := m.LatestCredential(ctx, cloudspending.ProviderAWS)
	require.NoError(t, err)
	assert.Equal(t, "AKIA2", got.AWSAccessKeyID)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), config.Storage{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	assert.NoError(t, s.Ping(context.Background()))

	_, err = Open(context.Background(), config.Storage{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestOpenPersistent_RefusesMemory(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, ""} {
		_, err := OpenPersistent(context.Background(), config.Storage{Driver: driver})
		assert.ErrorIs(t, err, ErrEphemeral)
	}

	_, err := OpenPersistent(context.Background(), config.Storage{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown storage driver")
}
