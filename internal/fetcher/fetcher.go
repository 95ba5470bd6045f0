// Package fetcher downloads vendor pages with per-host rate limiting,
// retries, and proxy rotation.
package fetcher

import (
	"context"

	"github.com/furnishly/catalog-cli/internal/model"
)

// Fetcher retrieves one page. Implementations must be safe for concurrent
// use; the pipeline shares a single Fetcher across all workers.
type Fetcher interface {
	// Fetch downloads the URL and returns the page body. A non-2xx final
	// status is an error, not a page.
	Fetch(ctx context.Context, url string) (*model.RawProductPage, error)
}
