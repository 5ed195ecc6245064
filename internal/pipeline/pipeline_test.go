package pipeline

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/sampletl/internal/archive"
)

// fakeLoader records calls and reports counts derived from the schema it was
// handed.
type fakeLoader struct {
	ensureCalls int
	loadCalls   int
	run         LoadRun
	schema      *StarSchema
	loadErr     error
}

func (f *fakeLoader) EnsureSchema(ctx context.Context) error {
	f.ensureCalls++
	return nil
}

func (f *fakeLoader) Load(ctx context.Context, run LoadRun, schema *StarSchema) (RowCounts, error) {
	f.loadCalls++
	f.run = run
	f.schema = schema
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return RowCounts{
		"dim_accounts":      int64(len(schema.Accounts)),
		"dim_customers":     int64(len(schema.Customers)),
		"account_customers": int64(len(schema.AccountCustomers)),
		"dim_dates":         int64(len(schema.Dates)),
		"fact_transactions": int64(len(schema.Facts)),
	}, nil
}

func (f *fakeLoader) Close() error { return nil }

// writeArchive builds a zip at a temp path holding the given documents, each
// value marshalled as a JSON array.
func writeArchive(t *testing.T, documents map[string][]map[string]interface{}) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sample_analytics.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive file: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, records := range documents {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to create zip entry %s: %v", name, err)
		}
		if err := json.NewEncoder(w).Encode(records); err != nil {
			t.Fatalf("Failed to encode %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip writer: %v", err)
	}
	return path
}

func sampleDocuments() map[string][]map[string]interface{} {
	return map[string][]map[string]interface{}{
		archive.AccountsDocument: {
			{"account_id": "371138", "limit": float64(9000), "products": []interface{}{"Derivatives"}},
			{"account_id": "324287", "limit": float64(10000)},
		},
		archive.CustomersDocument: {
			{
				"name":      "Elizabeth Ray",
				"username":  "fmiller",
				"birthdate": "1977-03-02T00:00:00Z",
				"accounts":  []interface{}{"371138"},
			},
		},
		archive.TransactionsDocument: {
			{
				"account_id":        "371138",
				"transaction_count": float64(2),
				"transactions": []interface{}{
					map[string]interface{}{
						"date":             "2023-01-01T00:00:00Z",
						"amount":           float64(1500),
						"transaction_code": "buy",
						"symbol":           "amzn",
						"price":            "183.44",
						"total":            "275160.0",
					},
					map[string]interface{}{
						"date":             "2023-01-02T00:00:00Z",
						"amount":           float64(200),
						"transaction_code": "sell",
						"symbol":           "amzn",
						"price":            float64(184.2),
						"total":            float64(36840),
					},
				},
			},
		},
	}
}

func TestRun(t *testing.T) {
	source := writeArchive(t, sampleDocuments())
	loader := &fakeLoader{}

	counts, err := Run(context.Background(), source, loader)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if loader.ensureCalls != 1 {
		t.Errorf("Expected EnsureSchema called once, got %d", loader.ensureCalls)
	}
	if loader.loadCalls != 1 {
		t.Errorf("Expected Load called once, got %d", loader.loadCalls)
	}
	if loader.run.ID == "" {
		t.Error("Expected a non-empty run ID")
	}
	if loader.run.Source != source {
		t.Errorf("Expected run source %q, got %q", source, loader.run.Source)
	}

	want := RowCounts{
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
	if loader.schema.Skipped.Total() != 0 {
		t.Errorf("Expected no suppressed rows, got %+v", loader.schema.Skipped)
	}
}

func TestRun_ArchiveNotFound(t *testing.T) {
	loader := &fakeLoader{}

	_, err := Run(context.Background(), filepath.Join(t.TempDir(), "nope.zip"), loader)
	if !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if loader.ensureCalls != 0 || loader.loadCalls != 0 {
		t.Error("Loader must not be touched when the archive is missing")
	}
}

func TestRun_MissingDocument(t *testing.T) {
	documents := sampleDocuments()
	delete(documents, archive.TransactionsDocument)
	source := writeArchive(t, documents)
	loader := &fakeLoader{}

	_, err := Run(context.Background(), source, loader)
	if !errors.Is(err, archive.ErrMissingDocument) {
		t.Fatalf("Expected ErrMissingDocument, got %v", err)
	}
	if loader.loadCalls != 0 {
		t.Error("Loader must not be touched when a document is missing")
	}
}

func TestRun_LoadErrorPropagates(t *testing.T) {
	source := writeArchive(t, sampleDocuments())
	loadErr := errors.New("disk full")
	loader := &fakeLoader{loadErr: loadErr}

	_, err := Run(context.Background(), source, loader)
	if !errors.Is(err, loadErr) {
		t.Fatalf("Expected load error to propagate, got %v", err)
	}
}
