// Package sqlite implements the star-schema storage sink on an embedded
// SQLite database.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dvloznov/sampletl/internal/pipeline"
)

// Store is a SQLite-backed pipeline.Loader. Use ":memory:" for an in-memory
// database.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path and makes sure the load_runs
// bookkeeping table exists. The five data relations are owned by
// EnsureSchema; load_runs survives fresh loads so failed runs stay visible.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("Open: connecting to %s: %w", path, err)
	}
	// A second pool connection would see a separate empty database when path
	// is ":memory:", and the load is sequential anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.ensureLoadRuns(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureLoadRuns(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS load_runs (
		run_id        TEXT PRIMARY KEY,
		source        TEXT NOT NULL,
		status        TEXT NOT NULL,
		started_at    TEXT NOT NULL,
		finished_at   TEXT,
		error_message TEXT
	)`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensureLoadRuns: %w", err)
	}
	return nil
}

// EnsureSchema recreates the five star-schema relations. Dropping first
// guarantees a fresh load never merges with stale data of an incompatible
// shape.
func (s *Store) EnsureSchema(ctx context.Context) error {
	drops := []string{
		"DROP TABLE IF EXISTS fact_transactions",
		"DROP TABLE IF EXISTS dim_dates",
		"DROP TABLE IF EXISTS account_customers",
		"DROP TABLE IF EXISTS dim_customers",
		"DROP TABLE IF EXISTS dim_accounts",
	}
	for _, stmt := range drops {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("EnsureSchema: %s: %w", stmt, err)
		}
	}

	const schema = `
	CREATE TABLE dim_accounts (
		account_id   INTEGER PRIMARY KEY,
		limit_amount REAL,
		products     TEXT
	);

	CREATE TABLE dim_customers (
		customer_id INTEGER PRIMARY KEY,
		name        TEXT,
		username    TEXT,
		birth_date  TEXT
	);

	CREATE TABLE account_customers (
		customer_id INTEGER NOT NULL REFERENCES dim_customers(customer_id),
		account_id  INTEGER NOT NULL REFERENCES dim_accounts(account_id),
		PRIMARY KEY (customer_id, account_id)
	);

	CREATE TABLE dim_dates (
		date_id INTEGER PRIMARY KEY,
		date    TEXT
	);

	CREATE TABLE fact_transactions (
		transaction_id    INTEGER PRIMARY KEY,
		account_id        INTEGER NOT NULL REFERENCES dim_accounts(account_id),
		date_id           INTEGER NOT NULL REFERENCES dim_dates(date_id),
		transaction_count INTEGER,
		amount            REAL,
		transaction_type  TEXT,
		symbol            TEXT,
		price             REAL,
		total             REAL
	);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("EnsureSchema: creating relations: %w", err)
	}
	return nil
}

// Load inserts all rows of the star schema inside a single database
// transaction and returns per-relation counts queried after commit. The run
// is recorded in load_runs outside the data transaction so that a failed
// load still leaves a FAILED row behind.
func (s *Store) Load(ctx context.Context, run pipeline.LoadRun, schema *pipeline.StarSchema) (pipeline.RowCounts, error) {
	if err := s.startRun(ctx, run); err != nil {
		return nil, err
	}

	if err := s.loadAll(ctx, schema); err != nil {
		s.finishRun(ctx, run.ID, "FAILED", err)
		return nil, err
	}

	counts, err := s.countRows(ctx)
	if err != nil {
		s.finishRun(ctx, run.ID, "FAILED", err)
		return nil, err
	}

	if err := s.finishRun(ctx, run.ID, "SUCCESS", nil); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) loadAll(ctx context.Context, schema *pipeline.StarSchema) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("loadAll: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const insertAccount = `INSERT INTO dim_accounts (account_id, limit_amount, products)
		VALUES (:account_id, :limit_amount, :products)`
	for _, row := range schema.Accounts {
		if _, err := tx.NamedExecContext(ctx, insertAccount, row); err != nil {
			return fmt.Errorf("loadAll: inserting dim_accounts row %d: %w", row.AccountID, err)
		}
	}

	const insertCustomer = `INSERT INTO dim_customers (customer_id, name, username, birth_date)
		VALUES (:customer_id, :name, :username, :birth_date)`
	for _, row := range schema.Customers {
		if _, err := tx.NamedExecContext(ctx, insertCustomer, row); err != nil {
			return fmt.Errorf("loadAll: inserting dim_customers row %d: %w", row.CustomerID, err)
		}
	}

	const insertEdge = `INSERT INTO account_customers (customer_id, account_id)
		VALUES (:customer_id, :account_id)`
	for _, row := range schema.AccountCustomers {
		if _, err := tx.NamedExecContext(ctx, insertEdge, row); err != nil {
			return fmt.Errorf("loadAll: inserting account_customers edge (%d,%d): %w",
				row.CustomerID, row.AccountID, err)
		}
	}

	const insertDate = `INSERT INTO dim_dates (date_id, date) VALUES (:date_id, :date)`
	for _, row := range schema.Dates {
		if _, err := tx.NamedExecContext(ctx, insertDate, row); err != nil {
			return fmt.Errorf("loadAll: inserting dim_dates row %d: %w", row.DateID, err)
		}
	}

	const insertFact = `INSERT INTO fact_transactions (
			transaction_id, account_id, date_id, transaction_count,
			amount, transaction_type, symbol, price, total
		) VALUES (
			:transaction_id, :account_id, :date_id, :transaction_count,
			:amount, :transaction_type, :symbol, :price, :total
		)`
	for _, row := range schema.Facts {
		if _, err := tx.NamedExecContext(ctx, insertFact, row); err != nil {
			return fmt.Errorf("loadAll: inserting fact_transactions row %d: %w", row.TransactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("loadAll: committing: %w", err)
	}
	return nil
}

func (s *Store) countRows(ctx context.Context) (pipeline.RowCounts, error) {
	counts := make(pipeline.RowCounts, len(pipeline.RelationNames))
	for _, name := range pipeline.RelationNames {
		var count int64
		if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+name); err != nil {
			return nil, fmt.Errorf("countRows: counting %s: %w", name, err)
		}
		counts[name] = count
	}
	return counts, nil
}

func (s *Store) startRun(ctx context.Context, run pipeline.LoadRun) error {
	const insert = `INSERT INTO load_runs (run_id, source, status, started_at)
		VALUES (?, ?, 'RUNNING', ?)`

	_, err := s.db.ExecContext(ctx, insert, run.ID, run.Source, run.StartedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("startRun: %w", err)
	}
	return nil
}

func (s *Store) finishRun(ctx context.Context, runID, status string, loadErr error) error {
	errMsg := ""
	if loadErr != nil {
		errMsg = loadErr.Error()
	}

	const update = `UPDATE load_runs
		SET status = ?, finished_at = ?, error_message = ?
		WHERE run_id = ?`

	_, err := s.db.ExecContext(ctx, update, status,
		time.Now().UTC().Format(time.RFC3339), errMsg, runID)
	if err != nil {
		return fmt.Errorf("finishRun: %w", err)
	}
	return nil
}
