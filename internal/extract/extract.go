// Package extract turns fetched product pages into canonical product
// records. Extraction runs a strategy chain: structured data first, HTML
// selectors as the fallback.
package extract

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// Strategy pulls product fields out of a parsed page. A strategy that
// finds nothing returns an error so the chain can fall through.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, profile vendor.Profile) (*model.CanonicalProduct, error)
}

// Extractor runs strategies in order and keeps the first hit.
type Extractor struct {
	strategies []Strategy
}

// New returns the standard chain: JSON-LD, then vendor CSS selectors.
func New() *Extractor {
	return &Extractor{strategies: []Strategy{&JSONLD{}, &Fallback{}}}
}

// Extract parses the page once and walks the chain. The returned product
// always carries the page URL; the caller owns vendor attribution and
// SKU screening.
func (e *Extractor) Extract(page *model.RawProductPage, profile vendor.Profile) (*model.CanonicalProduct, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse %s", page.URL)
	}

	var lastErr error
	for _, s := range e.strategies {
		p, err := s.Extract(doc, profile)
		if err != nil {
			lastErr = err
			zap.L().Debug("extract strategy missed",
				zap.String("strategy", s.Name()),
				zap.String("url", page.URL),
				zap.Error(err),
			)
			continue
		}
		p.ProductURL = page.URL
		return p, nil
	}

	return nil, eris.Wrapf(lastErr, "extract: no strategy matched %s", page.URL)
}
