package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"cloud-costs/domain/config"
)

// CostExplorerAPI is the subset of the Cost Explorer client used here.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, in *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Client fetches cost and usage grouped by service.
type Client struct {
	api         CostExplorerAPI
	granularity types.Granularity
}

// Settings are the resolved inputs of a fetch. Empty keys fall back to the default credential chain.
type Settings struct {
	Region          string
	Granularity     string
	AccessKeyID     string
	SecretAccessKey string
}

// SettingsFromConfig copies the AWS section of the configuration.
func SettingsFromConfig(c config.AWS) Settings {
	return Settings{Region: c.Region, Granularity: c.Granularity, AccessKeyID: c.AccessKeyID, SecretAccessKey: c.SecretAccessKey}
}

// NewClient creates a Cost Explorer client from explicit settings.
func NewClient(ctx context.Context, s Settings) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.Region)}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewClientWithAPI(costexplorer.NewFromConfig(cfg), s.Granularity), nil
}

// NewClientWithAPI wraps an existing Cost Explorer API.
func NewClientWithAPI(api CostExplorerAPI, granularity string) *Client {
	g := types.Granularity(strings.ToUpper(granularity))
	if g == "" {
		g = types.GranularityDaily
	}
	return &Client{api: api, granularity: g}
}

// report mirrors the GetCostAndUsage response body.
type report struct {
	ResultsByTime []resultByTime `json:"ResultsByTime"`
}

type resultByTime struct {
	TimePeriod dateInterval `json:"TimePeriod"`
	Groups     []group      `json:"Groups"`
	Estimated  bool         `json:"Estimated"`
}

type dateInterval struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type group struct {
	Keys    []string               `json:"Keys"`
	Metrics map[string]metricValue `json:"Metrics"`
}

type metricValue struct {
	Amount string `json:"Amount"`
	Unit   string `json:"Unit"`
}

// FetchCosts returns the Cost Explorer document for [start, end), all pages merged.
func (c *Client) FetchCosts(ctx context.Context, start, end time.Time) ([]byte, error) {
	in := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start.Format(time.DateOnly)),
			End:   aws.String(end.Format(time.DateOnly)),
		},
		Granularity: c.granularity,
		Metrics:     []string{"UnblendedCost", "BlendedCost"},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}

	var doc report
	for page := 1; ; page++ {
		out, err := c.api.GetCostAndUsage(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to get cost and usage (page %d): %w", page, err)
		}
		for _, r := range out.ResultsByTime {
			doc.ResultsByTime = append(doc.ResultsByTime, convertResult(r))
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			break
		}
		in.NextPageToken = out.NextPageToken
	}
	slog.Info("aws.fetch.done", "periods", len(doc.ResultsByTime), "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return b, nil
}

func convertResult(r types.ResultByTime) resultByTime {
	res := resultByTime{Estimated: r.Estimated}
	if r.TimePeriod != nil {
		res.TimePeriod = dateInterval{Start: aws.ToString(r.TimePeriod.Start), End: aws.ToString(r.TimePeriod.End)}
	}
	for _, g := range r.Groups {
		out := group{Keys: g.Keys, Metrics: make(map[string]metricValue, len(g.Metrics))}
		for name, m := range g.Metrics {
			out.Metrics[name] = metricValue{Amount: aws.ToString(m.Amount), Unit: aws.ToString(m.Unit)}
		}
		res.Groups = append(res.Groups, out)
	}
	return res
}
