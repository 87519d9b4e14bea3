package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/connectors/source"
)

func TestRun_WritesBothProviders(t *testing.T) {
	dir := t.TempDir()
	awsPath := filepath.Join(dir, "aws.json")
	azurePath := filepath.Join(dir, "azure.json")
	out := filepath.Join(dir, "out.csv")

	require.NoError(t, os.WriteFile(awsPath, []byte(
		"\ufeff"+`{"ResultsByTime":[{"TimePeriod":{"Start":"2024-01-01"},"Groups":[{"Keys":["AmazonEC2"],"Metrics":{"UnblendedCost":{"Amount":"12.5"}}}]}]}`), 0o644))
	require.NoError(t, os.WriteFile(azurePath, []byte(
		`{"value":[{"properties":{"serviceName":"Storage","cost":{"amount":5},"date":"2024-02-01"},"subscriptionId":"sub1","resourceGroup":"rg1","tags":{"env":"prod"}}]}`), 0o644))

	s, err := Run(Options{AWSInput: awsPath, AzureInput: azurePath, Output: out})
	require.NoError(t, err)
	assert.True(t, s.Written)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, source.Loaded, s.AWS)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		"provider,service,cost,timestamp,subscription,resource_group,tags\n"+
			"AWS,AmazonEC2,12.5,2024-01-01,,,AmazonEC2\n"+
			"Azure,Storage,5,2024-02-01,sub1,rg1,env\n",
		string(b))
}

func TestRun_NoDataWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	s, err := Run(Options{AWSInput: filepath.Join(dir, "missing.json"), AzureInput: filepath.Join(dir, "missing2.json"), Output: out})
	require.NoError(t, err)
	assert.False(t, s.Written)
	assert.Equal(t, source.Missing, s.AWS)
	assert.NoFileExists(t, out)
}
