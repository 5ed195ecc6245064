package pipeline

import (
	"context"
	"time"
)

// Loader persists a transformed star schema into a destination store. The
// load is all-or-nothing from the caller's perspective: a failure partway
// through must not leave some relations populated while reporting success.
type Loader interface {
	// EnsureSchema makes the five star-schema relations exist with the
	// expected column shapes, recreating them for a fresh load.
	EnsureSchema(ctx context.Context) error

	// Load inserts all rows of the schema and returns the per-relation row
	// counts observed in the store after commit.
	Load(ctx context.Context, run LoadRun, schema *StarSchema) (RowCounts, error)

	// Close releases the underlying store connection.
	Close() error
}

// LoadRun identifies one end-to-end load for bookkeeping.
type LoadRun struct {
	ID        string
	Source    string
	StartedAt time.Time
}

// RowCounts maps relation name to its post-commit row count.
type RowCounts map[string]int64

// RelationNames lists the five star-schema relations in schema order:
// dimensions first, then the fact table.
var RelationNames = []string{
	"dim_accounts",
	"dim_customers",
	"account_customers",
	"dim_dates",
	"fact_transactions",
}
