// Package store selects the record and credential store configured for the process.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud-costs/connectors/clickhouse"
	"cloud-costs/connectors/postgres"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
)

// ErrEphemeral is returned by OpenPersistent for the memory driver.
var ErrEphemeral = errors.New("the memory driver keeps nothing after exit; configure storage.driver postgres or clickhouse")

// OpenPersistent is Open for one-shot commands, whose writes must outlive the process.
func OpenPersistent(ctx context.Context, cfg config.Storage) (cloudspending.Store, error) {
	if cfg.Driver == config.DriverMemory || cfg.Driver == "" {
		return nil, ErrEphemeral
	}
	return Open(ctx, cfg)
}

// Open connects to the configured driver and applies its schema.
func Open(ctx context.Context, cfg config.Storage) (cloudspending.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		slog.Warn("store.memory", "reason", "records are kept in memory and lost on exit")
		return NewMemory(), nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		slog.Info("store.postgres.ready")
		return s, nil
	case config.DriverClickHouse:
		s, err := clickhouse.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open clickhouse store: %w", err)
		}
		slog.Info("store.clickhouse.ready")
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
