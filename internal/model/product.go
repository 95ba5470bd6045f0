// Package model defines the canonical product types shared across the
// scrape, categorization, and reconciliation stages.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The vendor interchange files store price as a bare JSON number.
	decimal.MarshalJSONWithoutQuotes = true
}

// CategoryRef is a listing-page URL plus an optional human label. It is
// used only as categorization context and is never persisted.
type CategoryRef struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// RawProductPage holds one fetched page. Discarded after extraction.
type RawProductPage struct {
	URL    string
	Status int
	Body   []byte
}

// CanonicalProduct is the durable unit of work produced by extraction and
// categorization. (Vendor, SKU) is the natural key.
type CanonicalProduct struct {
	Vendor       string           `json:"-"`
	Name         string           `json:"name"`
	SKU          string           `json:"sku"`
	ImageURL     string           `json:"img_url,omitempty"`
	ProductURL   string           `json:"product_url"`
	Price        *decimal.Decimal `json:"price"`
	Availability string           `json:"in_stock,omitempty"`
	RoomTypes    []string         `json:"room_types"`
	ProductType  string           `json:"product_type"`
	FixtureType  string           `json:"fixture_type,omitempty"`
}

// Key identifies a product within the catalog.
type Key struct {
	Vendor string
	SKU    string
}

// Key returns the product's natural key.
func (p CanonicalProduct) Key() Key {
	return Key{Vendor: p.Vendor, SKU: p.SKU}
}

// InStock derives a boolean availability from the vendor's free-text
// status. The text itself is preserved; this is a convenience predicate.
func (p CanonicalProduct) InStock() bool {
	s := strings.ReplaceAll(strings.ToLower(p.Availability), " ", "")
	return strings.Contains(s, "instock")
}

// FieldsEqual reports whether every persisted field matches. Used by the
// reconciler to decide between an update and a skip.
func (p CanonicalProduct) FieldsEqual(other CanonicalProduct) bool {
	if p.Name != other.Name ||
		p.ImageURL != other.ImageURL ||
		p.ProductURL != other.ProductURL ||
		p.Availability != other.Availability ||
		p.ProductType != other.ProductType ||
		p.FixtureType != other.FixtureType {
		return false
	}
	if !decimalEqual(p.Price, other.Price) {
		return false
	}
	if len(p.RoomTypes) != len(other.RoomTypes) {
		return false
	}
	for i := range p.RoomTypes {
		if p.RoomTypes[i] != other.RoomTypes[i] {
			return false
		}
	}
	return true
}

func decimalEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// DedupeBySKU collapses products sharing a SKU, keeping the last-seen
// record at the position of the first. Duplicate candidate URLs resolving
// to the same SKU are a discovery artifact, not two products.
func DedupeBySKU(products []CanonicalProduct) []CanonicalProduct {
	out := make([]CanonicalProduct, 0, len(products))
	index := make(map[string]int, len(products))
	for _, p := range products {
		if i, ok := index[p.SKU]; ok {
			out[i] = p
			continue
		}
		index[p.SKU] = len(out)
		out = append(out, p)
	}
	return out
}

// PersistedRecord is a CanonicalProduct with store-managed identity and
// timestamps.
type PersistedRecord struct {
	CanonicalProduct
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
