// Package pipeline orchestrates the per-vendor scrape: discover listing
// pages, fetch and extract product pages, categorize, dump the interchange
// file, and reconcile against the store.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/furnishly/catalog-cli/internal/categorize"
	"github.com/furnishly/catalog-cli/internal/discover"
	"github.com/furnishly/catalog-cli/internal/export"
	"github.com/furnishly/catalog-cli/internal/extract"
	"github.com/furnishly/catalog-cli/internal/fetcher"
	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/reconcile"
	"github.com/furnishly/catalog-cli/internal/store"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// Options tune a pipeline run.
type Options struct {
	// MaxPages caps pagination depth per seed.
	MaxPages int

	// MaxProducts caps how many candidate URLs are fetched per vendor.
	// Zero means no cap.
	MaxProducts int

	// Concurrency bounds simultaneous product-page fetches. Default: 8.
	Concurrency int

	// BatchSize bounds reconciliation write batches.
	BatchSize int

	// DataDir receives the per-vendor interchange files. Default: "data".
	DataDir string

	// SkipSync dumps the interchange file but leaves the store untouched.
	SkipSync bool
}

// VendorSummary reports what one vendor's run did.
type VendorSummary struct {
	Vendor          string
	Discovered      int
	Extracted       int
	Discarded       int
	ExtractFailures int
	ListingFailures int
	Outcome         reconcile.Outcome
	Err             error
}

// RunSummary aggregates a multi-vendor run.
type RunSummary struct {
	Vendors  []VendorSummary
	Duration time.Duration
}

// Failed reports whether every vendor in the run failed. Partial failure
// is normal operation for a scraper.
func (r RunSummary) Failed() bool {
	if len(r.Vendors) == 0 {
		return false
	}
	for _, v := range r.Vendors {
		if v.Err == nil {
			return false
		}
	}
	return true
}

// Pipeline wires the scrape stages together.
type Pipeline struct {
	fetcher     fetcher.Fetcher
	extractor   *extract.Extractor
	categorizer *categorize.Categorizer
	store       store.Store
	opts        Options
}

// New creates a Pipeline with all dependencies.
func New(f fetcher.Fetcher, ex *extract.Extractor, cat *categorize.Categorizer, st store.Store, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	return &Pipeline{
		fetcher:     f,
		extractor:   ex,
		categorizer: cat,
		store:       st,
		opts:        opts,
	}
}

// Run scrapes every profile. Vendors are processed sequentially and in
// isolation: one vendor failing never stops the others.
func (p *Pipeline) Run(ctx context.Context, profiles []vendor.Profile) RunSummary {
	start := time.Now()
	summary := RunSummary{Vendors: make([]VendorSummary, 0, len(profiles))}

	for _, profile := range profiles {
		vs := p.RunVendor(ctx, profile)
		summary.Vendors = append(summary.Vendors, vs)
		if ctx.Err() != nil {
			break
		}
	}

	summary.Duration = time.Since(start)
	return summary
}

// RunVendor executes the full pipeline for one vendor. Cancellation
// abandons in-flight fetches but already-extracted records are still
// dumped and reconciled.
func (p *Pipeline) RunVendor(ctx context.Context, profile vendor.Profile) VendorSummary {
	log := zap.L().With(zap.String("vendor", profile.Name))
	log.Info("pipeline: starting vendor scrape")

	vs := VendorSummary{Vendor: profile.Name}

	d := discover.New(p.fetcher, discover.Options{
		MaxPages:    p.opts.MaxPages,
		Concurrency: p.opts.Concurrency,
	})
	candidates, stats, err := d.Discover(ctx, profile)
	vs.Discovered = len(candidates)
	vs.ListingFailures = stats.SeedFailures
	if err != nil && len(candidates) == 0 {
		vs.Err = eris.Wrapf(err, "pipeline: discover %s", profile.Name)
		return vs
	}

	truncated := p.opts.MaxProducts > 0 && len(candidates) > p.opts.MaxProducts
	if truncated {
		candidates = candidates[:p.opts.MaxProducts]
	}

	products, extracted, discarded, failures := p.extractAll(ctx, profile, candidates)
	vs.Extracted = extracted
	vs.Discarded = discarded
	vs.ExtractFailures = failures

	products = model.DedupeBySKU(products)

	if err := export.Write(p.opts.DataDir, profile.Name, products); err != nil {
		log.Warn("pipeline: interchange dump failed", zap.Error(err))
	}

	if p.opts.SkipSync {
		log.Info("pipeline: sync skipped",
			zap.Int("discovered", vs.Discovered),
			zap.Int("extracted", vs.Extracted),
		)
		return vs
	}

	// A cancelled or capped run still lands what it extracted, but its
	// scrape is incomplete: unvisited products must not read as deletions.
	skipDeletes := ctx.Err() != nil || truncated

	outcome, err := p.sync(ctx, profile.Name, products, skipDeletes)
	vs.Outcome = outcome
	if err != nil {
		vs.Err = err
		return vs
	}

	log.Info("pipeline: vendor scrape complete",
		zap.Int("discovered", vs.Discovered),
		zap.Int("extracted", vs.Extracted),
		zap.Int("discarded", vs.Discarded),
		zap.Int("inserted", outcome.Inserted),
		zap.Int("updated", outcome.Updated),
		zap.Int64("deleted", outcome.Deleted),
	)
	return vs
}

// Sync replays already-extracted products into the store without
// scraping. Used by the sync command against interchange dumps.
func (p *Pipeline) Sync(ctx context.Context, vendorName string, products []model.CanonicalProduct) (reconcile.Outcome, error) {
	return p.sync(ctx, vendorName, model.DedupeBySKU(products), false)
}

// extractAll fetches, extracts, and categorizes candidates with bounded
// concurrency. Records without a SKU are discarded and counted; fetch and
// extract failures are counted but never abort the vendor.
func (p *Pipeline) extractAll(ctx context.Context, profile vendor.Profile, candidates []discover.Candidate) (products []model.CanonicalProduct, extracted, discarded, failures int) {
	var mu sync.Mutex
	results := make([]*model.CanonicalProduct, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, c := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			page, err := p.fetcher.Fetch(gctx, c.URL)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				zap.L().Warn("pipeline: fetch failed",
					zap.String("vendor", profile.Name),
					zap.String("url", c.URL),
					zap.Error(err),
				)
				return nil
			}

			product, err := p.extractor.Extract(page, profile)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				zap.L().Debug("pipeline: extract failed",
					zap.String("vendor", profile.Name),
					zap.String("url", c.URL),
					zap.Error(err),
				)
				return nil
			}

			product.Vendor = profile.Name
			product.SKU = profile.CleanSKU(product.SKU)
			if product.SKU == "" {
				mu.Lock()
				discarded++
				mu.Unlock()
				return nil
			}

			p.categorizer.Apply(product, c.Category)
			results[i] = product
			return nil
		})
	}
	_ = g.Wait()

	// Candidate order is preserved so dedupe-keep-last is deterministic.
	for _, r := range results {
		if r != nil {
			extracted++
			products = append(products, *r)
		}
	}
	return products, extracted, discarded, failures
}

func (p *Pipeline) sync(ctx context.Context, vendorName string, products []model.CanonicalProduct, skipDeletes bool) (reconcile.Outcome, error) {
	// Reconciliation uses a fresh context so a cancelled scrape still
	// lands what it extracted.
	syncCtx := context.WithoutCancel(ctx)

	existing, err := p.store.ListExisting(syncCtx, vendorName)
	if err != nil {
		return reconcile.Outcome{}, eris.Wrapf(err, "pipeline: list existing for %s", vendorName)
	}

	changes := reconcile.Diff(products, existing)
	if skipDeletes {
		changes.Deletes = nil
	}
	return reconcile.Apply(syncCtx, p.store, vendorName, changes, p.opts.BatchSize)
}
