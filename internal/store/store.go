// Package store persists the product catalog. Postgres is the primary
// backend; SQLite covers local runs.
package store

import (
	"context"

	"github.com/furnishly/catalog-cli/internal/model"
)

// RecordResult is the per-record outcome of a batch write. Err is nil for
// records that landed.
type RecordResult struct {
	SKU string
	Err error
}

// Store defines the persistence interface for the catalog. Every mutation
// is vendor-scoped: one vendor's sync can never touch another's rows.
type Store interface {
	// ListExisting returns the vendor's current catalog rows.
	ListExisting(ctx context.Context, vendor string) ([]model.PersistedRecord, error)

	// UpsertBatch writes the products, inserting or updating by
	// (vendor, sku). The result slice is parallel to products.
	UpsertBatch(ctx context.Context, vendor string, products []model.CanonicalProduct) []RecordResult

	// DeleteBatch removes the vendor's rows with the given SKUs and
	// reports how many were deleted.
	DeleteBatch(ctx context.Context, vendor string, skus []string) (int64, error)

	// Vendors lists every vendor present in the catalog.
	Vendors(ctx context.Context) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
