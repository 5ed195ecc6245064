// Package bigquery implements the star-schema storage sink on a BigQuery
// dataset, for destinations of the form bq://project.dataset.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/sampletl/internal/pipeline"
)

// Warehouse is a BigQuery-backed pipeline.Loader.
type Warehouse struct {
	client  *bigquery.Client
	project string
	dataset string
}

// Open parses a bq://project.dataset destination and connects a client.
func Open(ctx context.Context, target string) (*Warehouse, error) {
	trimmed := strings.TrimPrefix(target, "bq://")
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("Open: malformed BigQuery destination %q, want bq://project.dataset", target)
	}

	client, err := bigquery.NewClient(ctx, parts[0])
	if err != nil {
		return nil, fmt.Errorf("Open: bigquery client: %w", err)
	}

	return &Warehouse{client: client, project: parts[0], dataset: parts[1]}, nil
}

// Close closes the BigQuery client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

// EnsureSchema recreates the five relations via DDL. CREATE OR REPLACE keeps
// fresh loads from merging with stale data.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	ddls := []string{
		`CREATE OR REPLACE TABLE %s.dim_accounts (
			account_id   INT64 NOT NULL,
			limit_amount FLOAT64,
			products     STRING
		)`,
		`CREATE OR REPLACE TABLE %s.dim_customers (
			customer_id INT64 NOT NULL,
			name        STRING,
			username    STRING,
			birth_date  STRING
		)`,
		`CREATE OR REPLACE TABLE %s.account_customers (
			customer_id INT64 NOT NULL,
			account_id  INT64 NOT NULL
		)`,
		`CREATE OR REPLACE TABLE %s.dim_dates (
			date_id INT64 NOT NULL,
			date    STRING
		)`,
		`CREATE OR REPLACE TABLE %s.fact_transactions (
			transaction_id    INT64 NOT NULL,
			account_id        INT64 NOT NULL,
			date_id           INT64 NOT NULL,
			transaction_count INT64,
			amount            FLOAT64,
			transaction_type  STRING,
			symbol            STRING,
			price             FLOAT64,
			total             FLOAT64
		)`,
	}

	qualified := fmt.Sprintf("`%s.%s`", w.project, w.dataset)
	for _, ddl := range ddls {
		if err := w.runQuery(ctx, fmt.Sprintf(ddl, qualified)); err != nil {
			return fmt.Errorf("EnsureSchema: %w", err)
		}
	}
	return nil
}

// runQuery runs a statement as a query job and waits for completion.
func (w *Warehouse) runQuery(ctx context.Context, sql string) error {
	job, err := w.client.Query(sql).Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// Row structs with explicit bigquery tags; the pipeline's rows carry db tags
// for the SQLite sink, so each relation maps through its own save type.

type accountRow struct {
	AccountID   int64   `bigquery:"account_id"`
	LimitAmount float64 `bigquery:"limit_amount"`
	Products    string  `bigquery:"products"`
}

type customerRow struct {
	CustomerID int64  `bigquery:"customer_id"`
	Name       string `bigquery:"name"`
	Username   string `bigquery:"username"`
	BirthDate  string `bigquery:"birth_date"`
}

type accountCustomerRow struct {
	CustomerID int64 `bigquery:"customer_id"`
	AccountID  int64 `bigquery:"account_id"`
}

type dateRow struct {
	DateID int64  `bigquery:"date_id"`
	Date   string `bigquery:"date"`
}

type factRow struct {
	TransactionID    int64   `bigquery:"transaction_id"`
	AccountID        int64   `bigquery:"account_id"`
	DateID           int64   `bigquery:"date_id"`
	TransactionCount int64   `bigquery:"transaction_count"`
	Amount           float64 `bigquery:"amount"`
	TransactionType  string  `bigquery:"transaction_type"`
	Symbol           string  `bigquery:"symbol"`
	Price            float64 `bigquery:"price"`
	Total            float64 `bigquery:"total"`
}

// Load streams all rows into the five relations, dimensions before facts,
// then queries per-relation counts. BigQuery offers no cross-table
// transaction here; a failed insert surfaces as an error and the run is
// reported failed by the caller.
func (w *Warehouse) Load(ctx context.Context, run pipeline.LoadRun, schema *pipeline.StarSchema) (pipeline.RowCounts, error) {
	if err := w.insert(ctx, "dim_accounts", accountRows(schema)); err != nil {
		return nil, err
	}
	if err := w.insert(ctx, "dim_customers", customerRows(schema)); err != nil {
		return nil, err
	}
	if err := w.insert(ctx, "account_customers", edgeRows(schema)); err != nil {
		return nil, err
	}
	if err := w.insert(ctx, "dim_dates", dateRows(schema)); err != nil {
		return nil, err
	}
	if err := w.insert(ctx, "fact_transactions", factRows(schema)); err != nil {
		return nil, err
	}

	counts := make(pipeline.RowCounts, len(pipeline.RelationNames))
	for _, name := range pipeline.RelationNames {
		count, err := w.countRows(ctx, name)
		if err != nil {
			return nil, err
		}
		counts[name] = count
	}
	return counts, nil
}

func (w *Warehouse) insert(ctx context.Context, table string, rows interface{}) error {
	inserter := w.client.Dataset(w.dataset).Table(table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("insert: %s: %w", table, err)
	}
	return nil
}

func (w *Warehouse) countRows(ctx context.Context, table string) (int64, error) {
	sql := fmt.Sprintf("SELECT COUNT(*) AS n FROM `%s.%s.%s`", w.project, w.dataset, table)

	it, err := w.client.Query(sql).Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("countRows: reading %s: %w", table, err)
	}

	var row struct {
		N int64
	}
	for {
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("countRows: iterating %s: %w", table, err)
		}
	}
	return row.N, nil
}

func accountRows(schema *pipeline.StarSchema) []accountRow {
	rows := make([]accountRow, 0, len(schema.Accounts))
	for _, r := range schema.Accounts {
		rows = append(rows, accountRow{r.AccountID, r.LimitAmount, r.Products})
	}
	return rows
}

func customerRows(schema *pipeline.StarSchema) []customerRow {
	rows := make([]customerRow, 0, len(schema.Customers))
	for _, r := range schema.Customers {
		rows = append(rows, customerRow{r.CustomerID, r.Name, r.Username, r.BirthDate})
	}
	return rows
}

func edgeRows(schema *pipeline.StarSchema) []accountCustomerRow {
	rows := make([]accountCustomerRow, 0, len(schema.AccountCustomers))
	for _, r := range schema.AccountCustomers {
		rows = append(rows, accountCustomerRow{r.CustomerID, r.AccountID})
	}
	return rows
}

func dateRows(schema *pipeline.StarSchema) []dateRow {
	rows := make([]dateRow, 0, len(schema.Dates))
	for _, r := range schema.Dates {
		rows = append(rows, dateRow{r.DateID, r.Date})
	}
	return rows
}

func factRows(schema *pipeline.StarSchema) []factRow {
	rows := make([]factRow, 0, len(schema.Facts))
	for _, r := range schema.Facts {
		rows = append(rows, factRow{
			r.TransactionID, r.AccountID, r.DateID, r.TransactionCount,
			r.Amount, r.TransactionType, r.Symbol, r.Price, r.Total,
		})
	}
	return rows
}
