package export

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furnishly/catalog-cli/internal/model"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	price := decimal.RequireFromString("13143")
	products := []model.CanonicalProduct{
		{
			Vendor:       "bernhardt",
			Name:         "Odette Fabric Canopy Bed King",
			SKU:          "K1325",
			ImageURL:     "https://cdn.test/k1325.jpg",
			ProductURL:   "https://shop.test/p/k1325",
			Price:        &price,
			Availability: "In stock",
			RoomTypes:    []string{"Bedroom"},
			ProductType:  "Bed",
		},
		{
			Vendor:      "bernhardt",
			Name:        "Acacia Wall Sconce",
			SKU:         "770-92",
			ProductURL:  "https://shop.test/p/770-92",
			RoomTypes:   []string{"Living Room", "Dining Room"},
			ProductType: "Lighting",
			FixtureType: "Wall Sconce",
		},
	}

	require.NoError(t, Write(dir, "bernhardt", products))

	got, err := Read(dir, "bernhardt")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, products, got)
}

func TestWrite_FileFormat(t *testing.T) {
	dir := t.TempDir()

	price := decimal.RequireFromString("429.99")
	require.NoError(t, Write(dir, "hvlgroup", []model.CanonicalProduct{{
		Vendor: "hvlgroup", SKU: "29387", Name: "Halo Pendant",
		ProductURL: "https://shop.test/p/29387", Price: &price,
		RoomTypes: []string{"Multi-Purpose"}, ProductType: "Lighting", FixtureType: "Pendant",
	}}))

	buf, err := os.ReadFile(Path(dir, "hvlgroup"))
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(buf, &raw))
	require.Len(t, raw, 1)

	// Vendor comes from the filename, never the records.
	assert.NotContains(t, raw[0], "Vendor")
	assert.Equal(t, "29387", raw[0]["sku"])
	// Price is a bare JSON number, not a quoted string.
	assert.Equal(t, 429.99, raw[0]["price"])
	assert.Equal(t, "Pendant", raw[0]["fixture_type"])
}

func TestWrite_NilProducts(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(dir, "bernhardt", nil))

	buf, err := os.ReadFile(Path(dir, "bernhardt"))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(buf))
}

func TestRead_StampsVendor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "rowefurniture", []model.CanonicalProduct{
		{SKU: "N760-002", Name: "Nantucket Sofa", RoomTypes: []string{"Living Room"}, ProductType: "Sofa"},
	}))

	got, err := Read(dir, "rowefurniture")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rowefurniture", got[0].Vendor)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(t.TempDir(), "nosuchvendor")
	require.Error(t, err)
}

func TestVendors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "bernhardt", nil))
	require.NoError(t, Write(dir, "hvlgroup", nil))
	require.NoError(t, os.WriteFile(Path(dir, "notes")+".txt", []byte("x"), 0o644))

	vendors, err := Vendors(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bernhardt", "hvlgroup"}, vendors)
}

func TestVendors_MissingDir(t *testing.T) {
	vendors, err := Vendors(t.TempDir() + "/does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, vendors)
}
