// Package pipeline implements the sample-analytics ETL: extraction of the
// three source JSON documents from a zip archive, transformation into a
// normalized star schema and loading through a storage sink.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/sampletl/internal/archive"
	"github.com/dvloznov/sampletl/internal/logger"
)

// Run executes the full ETL for one source archive. The transform itself is
// deterministic and in-memory; all failure modes before it (missing archive,
// missing document) abort before any data is written.
func Run(ctx context.Context, source string, loader Loader) (RowCounts, error) {
	log := logger.FromContext(ctx)

	run := LoadRun{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	log.Info().Str("run_id", run.ID).Str("source", source).Msg("Starting ETL run")

	// 1. Fetch the archive bytes (local path or gs:// URI).
	data, err := archive.Fetch(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("Run: fetching archive: %w", err)
	}

	// 2. Extract and classify the three JSON documents.
	log.Info().Int("archive_bytes", len(data)).Msg("Extracting documents")
	bundle, err := archive.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("Run: extracting documents: %w", err)
	}
	log.Info().
		Int("accounts", len(bundle.Accounts)).
		Int("customers", len(bundle.Customers)).
		Int("transaction_groups", len(bundle.Transactions)).
		Msg("Documents extracted")

	// 3. Transform into the star schema.
	schema := Transform(bundle.Accounts, bundle.Customers, bundle.Transactions)
	log.Info().
		Int("dim_accounts", len(schema.Accounts)).
		Int("dim_customers", len(schema.Customers)).
		Int("account_customers", len(schema.AccountCustomers)).
		Int("dim_dates", len(schema.Dates)).
		Int("fact_transactions", len(schema.Facts)).
		Msg("Transform complete")
	logSkipped(log, schema.Skipped)

	// 4. Ensure the destination relations exist (fresh load).
	if err := loader.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("Run: ensuring schema: %w", err)
	}

	// 5. Load all rows and report per-relation counts.
	counts, err := loader.Load(ctx, run, schema)
	if err != nil {
		return nil, fmt.Errorf("Run: loading star schema: %w", err)
	}

	log.Info().Str("run_id", run.ID).Msg("ETL run complete")
	return counts, nil
}

// logSkipped reports the suppressed-row counters. Suppression is deliberate
// best-effort behaviour, so this is warning-level visibility only.
func logSkipped(log zerolog.Logger, skipped SkipCounts) {
	if skipped.Total() == 0 {
		return
	}
	log.Warn().
		Int("unresolved_groups", skipped.UnresolvedGroups).
		Int("missing_dates", skipped.MissingDates).
		Int("bad_dates", skipped.BadDates).
		Int("bad_numbers", skipped.BadNumbers).
		Int("dangling_account_refs", skipped.DanglingAccountRefs).
		Int("bad_birth_dates", skipped.BadBirthDates).
		Msg("Suppressed malformed or unresolvable source rows")
}
