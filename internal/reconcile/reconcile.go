// Package reconcile computes and applies the difference between a scrape
// run and the catalog's current state for one vendor.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/store"
)

// DefaultBatchSize bounds how many records each store write carries.
const DefaultBatchSize = 100

// Changes partitions a scrape run against the persisted catalog.
type Changes struct {
	Inserts   []model.CanonicalProduct
	Updates   []model.CanonicalProduct
	Unchanged []model.CanonicalProduct
	Deletes   []string
}

// RecordError pairs a SKU with the write error it hit.
type RecordError struct {
	SKU string
	Err error
}

// Outcome summarizes an applied reconciliation.
type Outcome struct {
	Inserted int
	Updated  int
	Skipped  int
	Deleted  int64
	Errors   []RecordError
}

// Diff partitions scraped against existing. It is pure: no store access,
// no mutation of its inputs. Records whose persisted fields all match are
// unchanged and will never be written; existing SKUs absent from scraped
// are deletions.
func Diff(scraped []model.CanonicalProduct, existing []model.PersistedRecord) Changes {
	current := make(map[string]model.CanonicalProduct, len(existing))
	for _, r := range existing {
		current[r.SKU] = r.CanonicalProduct
	}

	var changes Changes
	seen := make(map[string]struct{}, len(scraped))
	for _, p := range scraped {
		seen[p.SKU] = struct{}{}
		old, ok := current[p.SKU]
		switch {
		case !ok:
			changes.Inserts = append(changes.Inserts, p)
		case p.FieldsEqual(old):
			changes.Unchanged = append(changes.Unchanged, p)
		default:
			changes.Updates = append(changes.Updates, p)
		}
	}

	for _, r := range existing {
		if _, ok := seen[r.SKU]; !ok {
			changes.Deletes = append(changes.Deletes, r.SKU)
		}
	}
	return changes
}

// Apply writes the changes through the store in batches of batchSize.
// A failed record is reported in the outcome and never stops the rest of
// its batch or later batches.
func Apply(ctx context.Context, st store.Store, vendor string, changes Changes, batchSize int) (Outcome, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	outcome := Outcome{Skipped: len(changes.Unchanged)}

	outcome.Inserted = applyUpserts(ctx, st, vendor, changes.Inserts, batchSize, &outcome.Errors)
	outcome.Updated = applyUpserts(ctx, st, vendor, changes.Updates, batchSize, &outcome.Errors)

	if len(changes.Deletes) > 0 {
		n, err := st.DeleteBatch(ctx, vendor, changes.Deletes)
		if err != nil {
			return outcome, eris.Wrapf(err, "reconcile: delete stale products for %s", vendor)
		}
		outcome.Deleted = n
	}

	zap.L().Info("reconciled vendor",
		zap.String("vendor", vendor),
		zap.Int("inserted", outcome.Inserted),
		zap.Int("updated", outcome.Updated),
		zap.Int("skipped", outcome.Skipped),
		zap.Int64("deleted", outcome.Deleted),
		zap.Int("errors", len(outcome.Errors)),
	)
	return outcome, nil
}

func applyUpserts(ctx context.Context, st store.Store, vendor string, products []model.CanonicalProduct, batchSize int, errs *[]RecordError) int {
	written := 0
	for start := 0; start < len(products); start += batchSize {
		end := start + batchSize
		if end > len(products) {
			end = len(products)
		}
		for _, res := range st.UpsertBatch(ctx, vendor, products[start:end]) {
			if res.Err != nil {
				*errs = append(*errs, RecordError{SKU: res.SKU, Err: res.Err})
				continue
			}
			written++
		}
	}
	return written
}
