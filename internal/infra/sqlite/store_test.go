package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/sampletl/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSchema() *pipeline.StarSchema {
	return &pipeline.StarSchema{
		Accounts: []pipeline.AccountRow{
			{AccountID: 1, LimitAmount: 9000, Products: "Derivatives,InvestmentStock"},
			{AccountID: 2, LimitAmount: 10000, Products: ""},
		},
		Customers: []pipeline.CustomerRow{
			{CustomerID: 1, Name: "Elizabeth Ray", Username: "fmiller", BirthDate: "1977-03-02"},
		},
		AccountCustomers: []pipeline.AccountCustomerRow{
			{CustomerID: 1, AccountID: 1},
		},
		Dates: []pipeline.DateRow{
			{DateID: 1, Date: "2023-01-01"},
			{DateID: 2, Date: "2023-01-02"},
		},
		Facts: []pipeline.FactRow{
			{
				TransactionID: 1, AccountID: 1, DateID: 1, TransactionCount: 2,
				Amount: 1500, TransactionType: "buy", Symbol: "amzn",
				Price: 183.44, Total: 275160,
			},
			{
				TransactionID: 2, AccountID: 1, DateID: 2, TransactionCount: 2,
				Amount: 200, TransactionType: "sell", Symbol: "amzn",
				Price: 184.2, Total: 36840,
			},
		},
	}
}

func testRun() pipeline.LoadRun {
	return pipeline.LoadRun{
		ID:        "run-0001",
		Source:    "sample_analytics.zip",
		StartedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	counts, err := store.Load(ctx, testRun(), sampleSchema())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := pipeline.RowCounts{
		"dim_accounts":      2,
		"dim_customers":     1,
		"account_customers": 1,
		"dim_dates":         2,
		"fact_transactions": 2,
	}
	for name, n := range want {
		if counts[name] != n {
			t.Errorf("Expected %d rows in %s, got %d", n, name, counts[name])
		}
	}

	var status string
	if err := store.db.Get(&status, "SELECT status FROM load_runs WHERE run_id = ?", "run-0001"); err != nil {
		t.Fatalf("Failed to read run status: %v", err)
	}
	if status != "SUCCESS" {
		t.Errorf("Expected run status SUCCESS, got %s", status)
	}
}

func TestLoad_RoundTripValues(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if _, err := store.Load(ctx, testRun(), sampleSchema()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var fact pipeline.FactRow
	const query = `SELECT transaction_id, account_id, date_id, transaction_count,
		amount, transaction_type, symbol, price, total
		FROM fact_transactions WHERE transaction_id = 1`
	if err := store.db.Get(&fact, query); err != nil {
		t.Fatalf("Failed to read fact row: %v", err)
	}

	if fact.Symbol != "amzn" || fact.TransactionType != "buy" {
		t.Errorf("Unexpected fact strings: %+v", fact)
	}
	if fact.Price != 183.44 || fact.Total != 275160 || fact.Amount != 1500 {
		t.Errorf("Unexpected fact numbers: %+v", fact)
	}

	var customer pipeline.CustomerRow
	if err := store.db.Get(&customer,
		"SELECT customer_id, name, username, birth_date FROM dim_customers WHERE customer_id = 1"); err != nil {
		t.Fatalf("Failed to read customer row: %v", err)
	}
	if customer.BirthDate != "1977-03-02" {
		t.Errorf("Expected birth date 1977-03-02, got %q", customer.BirthDate)
	}
}

func TestEnsureSchema_FreshLoadReplacesData(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if _, err := store.Load(ctx, testRun(), sampleSchema()); err != nil {
		t.Fatalf("First load failed: %v", err)
	}

	// Recreating the schema empties the relations; the same keys insert again
	// without conflicts.
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("Second EnsureSchema failed: %v", err)
	}

	second := testRun()
	second.ID = "run-0002"
	counts, err := store.Load(ctx, second, sampleSchema())
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if counts["fact_transactions"] != 2 {
		t.Errorf("Expected 2 fact rows after reload, got %d", counts["fact_transactions"])
	}

	var runs int
	if err := store.db.Get(&runs, "SELECT COUNT(*) FROM load_runs"); err != nil {
		t.Fatalf("Failed to count runs: %v", err)
	}
	if runs != 2 {
		t.Errorf("Expected load_runs to survive schema recreation with 2 rows, got %d", runs)
	}
}

func TestLoad_ForeignKeyViolationRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	schema := sampleSchema()
	schema.Facts[1].AccountID = 99 // no such account

	if _, err := store.Load(ctx, testRun(), schema); err == nil {
		t.Fatal("Expected a foreign key violation")
	}

	var facts int
	if err := store.db.Get(&facts, "SELECT COUNT(*) FROM fact_transactions"); err != nil {
		t.Fatalf("Failed to count facts: %v", err)
	}
	if facts != 0 {
		t.Errorf("Expected rollback to leave 0 fact rows, got %d", facts)
	}

	var status string
	if err := store.db.Get(&status, "SELECT status FROM load_runs WHERE run_id = ?", "run-0001"); err != nil {
		t.Fatalf("Failed to read run status: %v", err)
	}
	if status != "FAILED" {
		t.Errorf("Expected run status FAILED, got %s", status)
	}
}
