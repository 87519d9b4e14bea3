package csv

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/domain/cloudspending"
)

func TestWriteRows_NoFileWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "normalized_cost_data.csv")

	written, err := WriteRows(path, nil)

	require.NoError(t, err)
	assert.False(t, written)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteRows_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "normalized_cost_data.csv")
	rows := []cloudspending.Row{
		{Provider: cloudspending.ProviderAWS, Service: "EC2", Cost: decimal.RequireFromString("12.50"), Timestamp: "2024-01-01", Tags: "EC2"},
		{Provider: cloudspending.ProviderAzure, Service: "Storage", Cost: decimal.NewFromInt(5), Timestamp: "2024-02-01",
			Subscription: "sub1", ResourceGroup: "rg1", Tags: "env, team"},
	}

	written, err := WriteRows(path, rows)
	require.NoError(t, err)
	require.True(t, written)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "provider,service,cost,timestamp,subscription,resource_group,tags", lines[0])
	assert.Equal(t, "AWS,EC2,12.5,2024-01-01,,,EC2", lines[1])
	assert.Equal(t, `Azure,Storage,5,2024-02-01,sub1,rg1,"env, team"`, lines[2])

	back, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, "env, team", back[1].Tags)
	assert.True(t, back[0].Cost.Equal(decimal.RequireFromString("12.5")))
}

func TestDecode_IgnoresIndexColumn(t *testing.T) {
	in := ",provider,service,cost,timestamp,subscription,resource_group,tags\n0,azure,VM,oops,2024-02-01,s,r,\n"

	rows, err := Decode(strings.NewReader(in))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, cloudspending.ProviderAzure, rows[0].Provider)
	assert.True(t, rows[0].Cost.IsZero())
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader("service,cost\nEC2,1\n"))
	assert.ErrorContains(t, err, `missing required column "provider"`)

	_, err = Decode(strings.NewReader("provider,service,cost,timestamp\nOracle,DB,1,2024-01-01\n"))
	assert.ErrorContains(t, err, "unknown provider")

	rows, err := Decode(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWriteRecords(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRecords(&buf, []cloudspending.Record{{
		ID: 1, Provider: cloudspending.ProviderAWS, Service: "S3", Cost: decimal.RequireFromString("0.25"),
		Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}})

	require.NoError(t, err)
	assert.Equal(t, "provider,service,cost,timestamp,subscription,resource_group,tags\nAWS,S3,0.25,2024-01-02,,,\n", buf.String())
}
