package cloudspending

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store persists cost records and provider credentials.
type Store interface {
	// UpsertRecords merges records by Key in a single transaction: a matching key
	// replaces cost and tags, anything else is inserted. It returns the number of
	// records written.
	UpsertRecords(ctx context.Context, records []Record) (int, error)
	// ListRecords returns matching records ordered by timestamp, then provider and service.
	ListRecords(ctx context.Context, f Filter) ([]Record, error)

	SaveCredential(ctx context.Context, c *Credential) error
	// LatestCredential returns the most recently saved credential for p, or ErrNotFound.
	LatestCredential(ctx context.Context, p Provider) (Credential, error)

	Ping(ctx context.Context) error
	Close() error
}
