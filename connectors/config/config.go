package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"cloud-costs/domain/config"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set.
const DefaultPath = "config.yml"

// ResolvePath picks the config file: explicit flag, then CONFIG_PATH, then ./config.yml.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load parses the YAML configuration file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*config.Config, error) {
	c := config.Default()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("config.file.missing", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		slog.Info("config.file.loaded", "path", path)
	}
	applyEnv(&c, os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// applyEnv overrides credentials and storage from the environment. It runs once at load time;
// nothing downstream reads the environment.
func applyEnv(c *config.Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	set(&c.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	set(&c.AWS.Region, "AWS_REGION")
	set(&c.Azure.ClientID, "AZURE_CLIENT_ID")
	set(&c.Azure.ClientSecret, "AZURE_CLIENT_SECRET")
	set(&c.Azure.TenantID, "AZURE_TENANT_ID")
	set(&c.Azure.SubscriptionID, "AZURE_SUBSCRIPTION_ID")
	set(&c.Storage.DSN, "DATABASE_URL")
	set(&c.Storage.Driver, "STORAGE_DRIVER")
}
