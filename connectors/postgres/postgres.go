// Package postgres stores cost records and credentials in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cloud-costs/domain/cloudspending"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements cloudspending.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects, pings and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		schema, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", name, describe(err))
		}
	}
	return nil
}

// recordKey is the unique key of cost_records. Concurrent writers of the same key
// serialize on its index instead of inserting twice.
const recordKey = `provider, service, "timestamp", subscription, resource_group`

const upsertRecord = `
		INSERT INTO cost_records (provider, service, cost, "timestamp", subscription, resource_group, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (` + recordKey + `) DO UPDATE SET cost = EXCLUDED.cost, tags = EXCLUDED.tags`

// UpsertRecords inserts records or overwrites cost and tags of existing keys, all in one transaction.
func (s *Store) UpsertRecords(ctx context.Context, records []cloudspending.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertRecord)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", describe(err))
	}
	defer stmt.Close()

	// a fixed key order keeps overlapping batches from deadlocking on each other's rows
	ordered := append([]cloudspending.Record(nil), records...)
	sort.Slice(ordered, func(i, j int) bool { return keyLess(ordered[i], ordered[j]) })
	for _, r := range ordered {
		ts := r.Timestamp.UTC()
		if _, err := stmt.ExecContext(ctx, string(r.Provider), r.Service, r.Cost, ts, r.Subscription, r.ResourceGroup, r.Tags); err != nil {
			return 0, fmt.Errorf("failed to upsert record: %w", describe(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", describe(err))
	}
	return len(records), nil
}

func keyLess(a, b cloudspending.Record) bool {
	switch {
	case a.Provider != b.Provider:
		return a.Provider < b.Provider
	case a.Service != b.Service:
		return a.Service < b.Service
	case !a.Timestamp.Equal(b.Timestamp):
		return a.Timestamp.Before(b.Timestamp)
	case a.Subscription != b.Subscription:
		return a.Subscription < b.Subscription
	}
	return a.ResourceGroup < b.ResourceGroup
}

// ListRecords returns records matching f.
func (s *Store) ListRecords(ctx context.Context, f cloudspending.Filter) ([]cloudspending.Record, error) {
	where, args := whereClause(f)
	query := `SELECT id, provider, service, cost, "timestamp", subscription, resource_group, tags FROM cost_records` +
		where + ` ORDER BY "timestamp", provider, service, subscription, resource_group`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", describe(err))
	}
	defer rows.Close()

	var out []cloudspending.Record
	for rows.Next() {
		var r cloudspending.Record
		var provider string
		if err := rows.Scan(&r.ID, &provider, &r.Service, &r.Cost, &r.Timestamp, &r.Subscription, &r.ResourceGroup, &r.Tags); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Provider = cloudspending.Provider(provider)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// whereClause renders f as SQL with positional parameters. End is inclusive of its day.
func whereClause(f cloudspending.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Provider != "" {
		add("provider = $%d", string(f.Provider))
	}
	if f.Service != "" {
		add("service = $%d", f.Service)
	}
	if f.Subscription != "" {
		add("subscription = $%d", f.Subscription)
	}
	if f.ResourceGroup != "" {
		add("resource_group = $%d", f.ResourceGroup)
	}
	if !f.Start.IsZero() {
		add(`"timestamp" >= $%d`, day(f.Start))
	}
	if !f.End.IsZero() {
		add(`"timestamp" < $%d`, day(f.End).AddDate(0, 0, 1))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) SaveCredential(ctx context.Context, c *cloudspending.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cloud_credentials (id, provider, aws_access_key_id, aws_secret_access_key,
			azure_client_id, azure_client_secret, azure_tenant_id, azure_subscription_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, string(c.Provider), c.AWSAccessKeyID, c.AWSSecretAccessKey,
		c.AzureClientID, c.AzureClientSecret, c.AzureTenantID, c.AzureSubscriptionID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", describe(err))
	}
	return nil
}

func (s *Store) LatestCredential(ctx context.Context, p cloudspending.Provider) (cloudspending.Credential, error) {
	var c cloudspending.Credential
	var provider string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, aws_access_key_id, aws_secret_access_key,
			azure_client_id, azure_client_secret, azure_tenant_id, azure_subscription_id, created_at
		FROM cloud_credentials WHERE provider = $1
		ORDER BY created_at DESC LIMIT 1`, string(p),
	).Scan(&c.ID, &provider, &c.AWSAccessKeyID, &c.AWSSecretAccessKey,
		&c.AzureClientID, &c.AzureClientSecret, &c.AzureTenantID, &c.AzureSubscriptionID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cloudspending.Credential{}, cloudspending.ErrNotFound
	}
	if err != nil {
		return cloudspending.Credential{}, fmt.Errorf("failed to load credential: %w", describe(err))
	}
	c.Provider = cloudspending.Provider(provider)
	return c, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// describe adds the SQLSTATE code to server errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (sqlstate %s)", err, pqErr.Code)
	}
	return err
}
