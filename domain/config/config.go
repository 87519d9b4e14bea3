package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the structure of config.yml used by the tool.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Schedule Schedule `yaml:"schedule"`
	AWS      AWS      `yaml:"aws"`
	Azure    Azure    `yaml:"azure"`
	GCP      GCP      `yaml:"gcp"`
	Web      Web      `yaml:"web"`
	Batch    Batch    `yaml:"batch"`
	Log      Log      `yaml:"log"`
}

// Storage drivers.
const (
	DriverMemory     = "memory"
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
)

type Storage struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Schedule struct {
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type AWS struct {
	Region          string `yaml:"region"`
	Granularity     string `yaml:"granularity"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type Azure struct {
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	SubscriptionID string `yaml:"subscription_id"`
	Timeframe      string `yaml:"timeframe"`
	Granularity    string `yaml:"granularity"`
	// Overridable for tests and sovereign clouds.
	LoginURL      string `yaml:"login_url"`
	ManagementURL string `yaml:"management_url"`
}

// Enabled reports whether enough is configured to call the Cost Management API.
func (a Azure) Enabled() bool {
	return a.TenantID != "" && a.ClientID != "" && a.ClientSecret != "" && a.SubscriptionID != ""
}

// GCP configures the BigQuery billing export query. Disabled by default.
type GCP struct {
	Enabled            bool   `yaml:"enabled"`
	ProjectID          string `yaml:"project_id"`
	Table              string `yaml:"table"`
	ServiceAccountJSON string `yaml:"service_account_json"`
	BigQueryURL        string `yaml:"bigquery_url"`
}

type Web struct {
	Addr string `yaml:"addr"`
}

// Batch holds the static documents used by the normalize command.
type Batch struct {
	AWSInput   string `yaml:"aws_input"`
	AzureInput string `yaml:"azure_input"`
	Output     string `yaml:"output"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Storage:  Storage{Driver: DriverMemory},
		Schedule: Schedule{Interval: 30 * time.Minute, FetchTimeout: 2 * time.Minute},
		AWS:      AWS{Region: "us-east-1", Granularity: "DAILY"},
		Azure: Azure{
			Timeframe:     "MonthToDate",
			Granularity:   "Daily",
			LoginURL:      "https://login.microsoftonline.com",
			ManagementURL: "https://management.azure.com",
		},
		GCP:   GCP{BigQueryURL: "https://bigquery.googleapis.com"},
		Web:   Web{Addr: ":8050"},
		Batch: Batch{AWSInput: "aws_cost_data.json", AzureInput: "azure_cost_data.json", Output: "normalized_cost_data.csv"},
		Log:   Log{Level: "info", Format: "text"},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres, DriverClickHouse:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	if c.Schedule.FetchTimeout <= 0 {
		errs = append(errs, errors.New("schedule.fetch_timeout must be positive"))
	}
	switch strings.ToUpper(c.AWS.Granularity) {
	case "DAILY", "MONTHLY", "HOURLY":
	default:
		errs = append(errs, fmt.Errorf("unknown aws.granularity %q", c.AWS.Granularity))
	}
	if c.GCP.Enabled && (c.GCP.ProjectID == "" || c.GCP.Table == "") {
		errs = append(errs, errors.New("gcp.project_id and gcp.table are required when gcp is enabled"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
