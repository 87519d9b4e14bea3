package cmdimport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
)

func TestImportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "normalized.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"provider,service,cost,timestamp,subscription,resource_group,tags\n"+
			"AWS,AmazonEC2,12.5,2024-01-01,,,AmazonEC2\n"+
			"Azure,VM,0,Unknown Date,Unknown Subscription,Unknown Resource Group,\n"+
			"Azure,Storage,5,2024-02-01,sub1,rg1,env\n"), 0o644))

	st := store.NewMemory()
	res, err := ImportCSV(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Persisted)
	assert.Equal(t, 1, res.Skipped)

	got, err := st.ListRecords(context.Background(), cloudspending.Filter{Provider: cloudspending.ProviderAzure})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rg1", got[0].ResourceGroup)
}

func TestImportDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aws.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"ResultsByTime":[{"TimePeriod":{"Start":"2024-01-01"},"Groups":[{"Keys":["AmazonEC2"],"Metrics":{"UnblendedCost":{"Amount":"12.5"}}}]}]}`), 0o644))

	res, err := ImportDocument(context.Background(), store.NewMemory(), cloudspending.ProviderAWS, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)

	_, err = ImportDocument(context.Background(), store.NewMemory(), cloudspending.ProviderAWS, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCommand_RefusesMemoryStore(t *testing.T) {
	load := func() (*config.Config, error) {
		cfg := config.Default()
		return &cfg, nil
	}
	cmd := NewCommand(load)
	cmd.SetArgs([]string{"--csv", filepath.Join(t.TempDir(), "normalized.csv")})

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, store.ErrEphemeral)
}
