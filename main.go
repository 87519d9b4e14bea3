package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	cmdcalculate "cloud-costs/command/calculate"
	cmdcredentials "cloud-costs/command/credentials"
	cmdfetch "cloud-costs/command/fetch"
	cmdimport "cloud-costs/command/import"
	cmdnormalize "cloud-costs/command/normalize"
	cmdweb "cloud-costs/command/web"
	cfgloader "cloud-costs/connectors/config"
	"cloud-costs/domain/config"
)

// Cloud billing aggregator for AWS and Azure (GCP optional).
// Usage:
//
//	cloud-costs normalize [--aws aws_cost_data.json] [--azure azure_cost_data.json] [--out normalized_cost_data.csv]
//	cloud-costs fetch
//	cloud-costs web [--addr :8050]
//	cloud-costs import --csv normalized_cost_data.csv | --provider azure azure_cost_data.json
//	cloud-costs calculate [--csv normalized_cost_data.csv] [--out data]
//	cloud-costs credentials set|show <aws|azure>
//
// ENV: CONFIG_PATH points to a YAML config file (default ./config.yml).

var (
	configPath string
	logLevel   string
	logFormat  string
	loaded     *config.Config
)

// loadConfig reads the configuration once per process and applies logging settings.
func loadConfig() (*config.Config, error) {
	if loaded != nil {
		return loaded, nil
	}
	cfg, err := cfgloader.Load(cfgloader.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	setupLogger(cfg.Log)
	loaded = cfg
	return cfg, nil
}

func setupLogger(c config.Log) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(c.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cloud-costs",
		Short:         "Collect, normalize and explore AWS and Azure billing data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// early logger so config loading is visible; replaced once config is read
			setupLogger(config.Log{Level: logLevel, Format: logFormat})
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yml (default $CONFIG_PATH or ./config.yml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		cmdnormalize.NewCommand(loadConfig),
		cmdfetch.NewCommand(loadConfig),
		cmdweb.NewCommand(loadConfig),
		cmdimport.NewCommand(loadConfig),
		cmdcalculate.NewCommand(loadConfig),
		cmdcredentials.NewCommand(loadConfig),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
