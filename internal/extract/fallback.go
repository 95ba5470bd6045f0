package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// Fallback extracts with the vendor profile's CSS selectors. Fields are
// independently optional: a page missing its price still yields a record.
type Fallback struct{}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) Extract(doc *goquery.Document, profile vendor.Profile) (*model.CanonicalProduct, error) {
	sel := profile.Fallback
	p := &model.CanonicalProduct{
		Name:         selectText(doc, sel.Name),
		ImageURL:     selectImage(doc, sel.Image),
		Availability: selectText(doc, sel.Stock),
	}

	if raw := selectText(doc, sel.SKU); raw != "" {
		p.SKU = profile.CleanSKU(raw)
	}
	if raw := selectText(doc, sel.Price); raw != "" {
		p.Price = ParsePrice(raw)
	}

	if p.Name == "" && p.SKU == "" {
		return nil, eris.New("fallback: no recognizable product fields")
	}
	return p, nil
}

func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// selectImage prefers src but tolerates lazy-loading attributes.
func selectImage(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	node := doc.Find(selector).First()
	for _, attr := range []string{"src", "data-src", "content"} {
		if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
