package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-costs/domain/normalize"
)

type fakeCostExplorer struct {
	pages  []*costexplorer.GetCostAndUsageOutput
	inputs []costexplorer.GetCostAndUsageInput
	err    error
}

func (f *fakeCostExplorer) GetCostAndUsage(_ context.Context, in *costexplorer.GetCostAndUsageInput, _ ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	f.inputs = append(f.inputs, *in)
	if f.err != nil {
		return nil, f.err
	}
	out := f.pages[0]
	f.pages = f.pages[1:]
	return out, nil
}

func result(start, service, amount string) types.ResultByTime {
	return types.ResultByTime{
		TimePeriod: &types.DateInterval{Start: aws.String(start), End: aws.String(start)},
		Groups: []types.Group{{
			Keys:    []string{service},
			Metrics: map[string]types.MetricValue{"UnblendedCost": {Amount: aws.String(amount), Unit: aws.String("USD")}},
		}},
	}
}

func TestFetchCosts_MergesPages(t *testing.T) {
	fake := &fakeCostExplorer{pages: []*costexplorer.GetCostAndUsageOutput{
		{ResultsByTime: []types.ResultByTime{result("2024-01-01", "EC2", "12.50")}, NextPageToken: aws.String("next")},
		{ResultsByTime: []types.ResultByTime{result("2024-01-02", "S3", "0.10")}},
	}}
	c := NewClientWithAPI(fake, "daily")

	doc, err := c.FetchCosts(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.Len(t, fake.inputs, 2)
	assert.Equal(t, "2024-01-01", aws.ToString(fake.inputs[0].TimePeriod.Start))
	assert.Equal(t, "2024-01-03", aws.ToString(fake.inputs[0].TimePeriod.End))
	assert.Equal(t, types.GranularityDaily, fake.inputs[0].Granularity)
	assert.Nil(t, fake.inputs[0].NextPageToken)
	assert.Equal(t, "next", aws.ToString(fake.inputs[1].NextPageToken))

	rows := normalize.AWS(doc)
	require.Len(t, rows, 2)
	assert.Equal(t, "EC2", rows[0].Service)
	assert.Equal(t, "12.5", rows[0].Cost.String())
	assert.Equal(t, "S3", rows[1].Service)
	assert.Equal(t, "2024-01-02", rows[1].Timestamp)
}

func TestFetchCosts_Error(t *testing.T) {
	c := NewClientWithAPI(&fakeCostExplorer{err: errors.New("AccessDeniedException")}, "")

	_, err := c.FetchCosts(context.Background(), time.Now(), time.Now())

	assert.ErrorContains(t, err, "AccessDeniedException")
}
