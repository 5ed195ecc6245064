// Package archive locates and decodes the three sample-analytics JSON
// documents inside a zip container. The container can live on the local
// filesystem or in a GCS bucket (gs:// URIs).
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

var (
	// ErrNotFound is returned when the source location does not reference a
	// readable archive.
	ErrNotFound = errors.New("archive not found")

	// ErrMissingDocument is returned when one of the three expected JSON
	// documents is absent from the archive.
	ErrMissingDocument = errors.New("expected document missing from archive")
)

// Basenames of the three documents the transform requires.
const (
	AccountsDocument     = "sample_analytics.accounts.json"
	CustomersDocument    = "sample_analytics.customers.json"
	TransactionsDocument = "sample_analytics.transactions.json"
)

// metadataNoiseDir is the macOS resource-fork directory zip tools add;
// entries under it are never source documents.
const metadataNoiseDir = "__MACOSX"

// Bundle holds the three decoded source collections. Records stay as generic
// JSON objects; the transform layer owns all field interpretation.
type Bundle struct {
	Accounts     []map[string]interface{}
	Customers    []map[string]interface{}
	Transactions []map[string]interface{}
}

// Fetch reads the raw archive bytes from the given location. A location of
// the form "gs://bucket/object" is read from GCS; anything else is treated as
// a local file path. A missing local path fails with ErrNotFound before any
// processing begins.
func Fetch(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "gs://") {
		return fetchFromGCS(ctx, location)
	}

	info, err := os.Stat(location)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("Fetch: %w: %s", ErrNotFound, location)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading %s: %w", location, err)
	}
	return data, nil
}

// fetchFromGCS downloads the archive bytes from a gs://bucket/object URI.
func fetchFromGCS(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitGCSURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("fetchFromGCS: %w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("fetchFromGCS: open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: read GCS object: %w", err)
	}
	return data, nil
}

// splitGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func splitGCSURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("splitGCSURI: malformed GCS URI %q", uri)
	}
	return parts[0], parts[1], nil
}

// Extract walks the zip entries, classifies every JSON document by exact
// basename and decodes the three source collections. All three documents must
// be present; the transform has no defined behaviour for partial input.
func Extract(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("Extract: opening zip container: %w", err)
	}

	bundle := &Bundle{}
	for _, file := range zr.File {
		if !strings.HasSuffix(file.Name, ".json") {
			continue
		}
		if strings.Contains(file.Name, metadataNoiseDir) {
			continue
		}

		var target *[]map[string]interface{}
		switch path.Base(file.Name) {
		case AccountsDocument:
			target = &bundle.Accounts
		case CustomersDocument:
			target = &bundle.Customers
		case TransactionsDocument:
			target = &bundle.Transactions
		default:
			continue
		}

		records, err := decodeEntry(file)
		if err != nil {
			return nil, fmt.Errorf("Extract: %s: %w", file.Name, err)
		}
		*target = records
	}

	if missing := bundle.missingDocuments(); len(missing) > 0 {
		return nil, fmt.Errorf("Extract: %w: %s", ErrMissingDocument, strings.Join(missing, ", "))
	}

	return bundle, nil
}

func decodeEntry(file *zip.File) ([]map[string]interface{}, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry: %w", err)
	}
	defer rc.Close()

	var records []map[string]interface{}
	if err := json.NewDecoder(rc).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding JSON array: %w", err)
	}
	return records, nil
}

func (b *Bundle) missingDocuments() []string {
	var missing []string
	if b.Accounts == nil {
		missing = append(missing, AccountsDocument)
	}
	if b.Customers == nil {
		missing = append(missing, CustomersDocument)
	}
	if b.Transactions == nil {
		missing = append(missing, TransactionsDocument)
	}
	return missing
}
