package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// JSONLD extracts from schema.org Product blocks. Most vendor platforms
// emit these for SEO, which makes them far more stable than page markup.
type JSONLD struct{}

func (j *JSONLD) Name() string { return "jsonld" }

// Extract scans every ld+json script for the first node whose @type is
// (or contains) "Product".
func (j *JSONLD) Extract(doc *goquery.Document, _ vendor.Profile) (*model.CanonicalProduct, error) {
	var product map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var block any
		if err := json.Unmarshal([]byte(sel.Text()), &block); err != nil {
			// Malformed blocks are common; skip and keep scanning.
			return true
		}
		if found := findProductNode(block); found != nil {
			product = found
			return false
		}
		return true
	})
	if product == nil {
		return nil, eris.New("jsonld: no product block")
	}

	p := &model.CanonicalProduct{
		Name:     strings.TrimSpace(stringField(product, "name")),
		SKU:      strings.TrimSpace(stringField(product, "sku")),
		ImageURL: imageField(product["image"]),
	}

	if offers := firstOffer(product["offers"]); offers != nil {
		p.Price = ParsePrice(anyToString(offers["price"]))
		p.Availability = strings.TrimSpace(stringField(offers, "availability"))
	}

	return p, nil
}

// findProductNode walks a decoded ld+json value, including top-level
// arrays and @graph containers, for the first Product node.
func findProductNode(block any) map[string]any {
	switch v := block.(type) {
	case map[string]any:
		if isProductType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"].([]any); ok {
			return findProductNode(graph)
		}
	case []any:
		for _, item := range v {
			if found := findProductNode(item); found != nil {
				return found
			}
		}
	}
	return nil
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "Product")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, "Product") {
				return true
			}
		}
	}
	return false
}

// firstOffer normalizes offers, which vendors emit as an object, a list,
// or an AggregateOffer.
func firstOffer(offers any) map[string]any {
	switch v := offers.(type) {
	case map[string]any:
		return v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// imageField handles image as a plain URL, a list of URLs, or an
// ImageObject.
func imageField(img any) string {
	switch v := img.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if s := imageField(item); s != "" {
				return s
			}
		}
	case map[string]any:
		return strings.TrimSpace(stringField(v, "url"))
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// anyToString renders a JSON scalar for price parsing; prices appear as
// both strings and numbers in the wild.
func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	default:
		return ""
	}
}
