// Package credentials saves and shows provider credentials in the configured store.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
)

// NewCommand builds `credentials set|show`.
func NewCommand(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider credentials used by the refresh cycle",
	}
	cmd.AddCommand(newSetCommand(load), newShowCommand(load))
	return cmd
}

func newSetCommand(load func() (*config.Config, error)) *cobra.Command {
	var c cloudspending.Credential
	cmd := &cobra.Command{
		Use:   "set <aws|azure>",
		Short: "Save credentials for a provider; the latest saved credentials win",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := cloudspending.ParseProvider(args[0])
			if !ok {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			c.Provider = p
			return withStore(cmd.Context(), load, func(st cloudspending.Store) error {
				saved, err := Save(cmd.Context(), st, c)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), saved.Masked())
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.AWSAccessKeyID, "aws-access-key-id", "", "AWS access key id")
	f.StringVar(&c.AWSSecretAccessKey, "aws-secret-access-key", "", "AWS secret access key")
	f.StringVar(&c.AzureClientID, "azure-client-id", "", "Azure application (client) id")
	f.StringVar(&c.AzureClientSecret, "azure-client-secret", "", "Azure client secret")
	f.StringVar(&c.AzureTenantID, "azure-tenant-id", "", "Azure tenant id")
	f.StringVar(&c.AzureSubscriptionID, "azure-subscription-id", "", "Azure subscription id")
	return cmd
}

func newShowCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "show <aws|azure>",
		Short: "Show the latest saved credentials for a provider, secrets masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := cloudspending.ParseProvider(args[0])
			if !ok {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			return withStore(cmd.Context(), load, func(st cloudspending.Store) error {
				c, err := st.LatestCredential(cmd.Context(), p)
				if errors.Is(err, cloudspending.ErrNotFound) {
					return fmt.Errorf("no credentials saved for %s", p)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c.Masked())
			})
		},
	}
}

// Save validates c for its provider and stores it. The store assigns the id and creation time.
func Save(ctx context.Context, st cloudspending.Store, c cloudspending.Credential) (cloudspending.Credential, error) {
	if err := c.Validate(); err != nil {
		return cloudspending.Credential{}, err
	}
	if err := st.SaveCredential(ctx, &c); err != nil {
		return cloudspending.Credential{}, fmt.Errorf("failed to save credentials: %w", err)
	}
	slog.Info("credentials.saved", "provider", c.Provider, "id", c.ID)
	return c, nil
}

func withStore(ctx context.Context, load func() (*config.Config, error), fn func(cloudspending.Store) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	st, err := store.OpenPersistent(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
