// Package export reads and writes the per-vendor JSON interchange files.
// A scrape dumps its extracted products to data/<vendor>.json before
// reconciling; sync replays those files into the store later.
package export

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/furnishly/catalog-cli/internal/model"
)

// Path returns the interchange file path for a vendor under dataDir.
func Path(dataDir, vendor string) string {
	return filepath.Join(dataDir, vendor+".json")
}

// Write dumps the products to data/<vendor>.json, creating dataDir as
// needed. The file is a plain JSON array so it stays greppable and
// diffable between runs.
func Write(dataDir, vendor string, products []model.CanonicalProduct) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create data dir %s", dataDir)
	}
	if products == nil {
		products = []model.CanonicalProduct{}
	}

	buf, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "export: marshal products for %s", vendor)
	}
	buf = append(buf, '\n')

	path := Path(dataDir, vendor)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}

	zap.L().Info("wrote interchange file",
		zap.String("vendor", vendor),
		zap.String("path", path),
		zap.Int("products", len(products)),
	)
	return nil
}

// Read loads a vendor's interchange file and stamps each product with the
// vendor, which the file itself does not carry.
func Read(dataDir, vendor string) ([]model.CanonicalProduct, error) {
	path := Path(dataDir, vendor)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read %s", path)
	}

	var products []model.CanonicalProduct
	if err := json.Unmarshal(buf, &products); err != nil {
		return nil, eris.Wrapf(err, "export: unmarshal %s", path)
	}
	for i := range products {
		products[i].Vendor = vendor
	}
	return products, nil
}

// Vendors lists the vendors that have an interchange file under dataDir.
func Vendors(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "export: read data dir %s", dataDir)
	}

	var vendors []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		vendors = append(vendors, e.Name()[:len(e.Name())-len(".json")])
	}
	return vendors, nil
}
