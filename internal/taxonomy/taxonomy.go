// Package taxonomy holds the closed room, product, and fixture category
// lists that drive categorization. Taxonomies are injected data: swapping
// a category list never requires touching the matching algorithm.
package taxonomy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Sentinel categories used when inference finds no confident match.
const (
	MultiPurpose = "Multi-Purpose"
	Other        = "Other"
)

// Lighting is the product category that gates fixture-type inference.
const Lighting = "Lighting"

// Category is a named category with its matching keywords.
type Category struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// Set bundles the three taxonomies consumed by the categorizer. Declaration
// order matters: product-type score ties break toward the earlier entry.
type Set struct {
	Rooms    []Category
	Products []Category
	Fixtures []Category
}

// Validate checks that the set can support categorization at all.
func (s *Set) Validate() error {
	if len(s.Rooms) == 0 {
		return eris.New("taxonomy: no room types defined")
	}
	if len(s.Products) == 0 {
		return eris.New("taxonomy: no product types defined")
	}
	return nil
}

// file wrappers matching the on-disk layout.
type roomFile struct {
	RoomTypes []Category `json:"room_types" yaml:"room_types"`
}

type productFile struct {
	ProductTypes []Category `json:"product_types" yaml:"product_types"`
}

type fixtureFile struct {
	FixtureTypes []Category `json:"fixture_types" yaml:"fixture_types"`
}

// Load reads taxonomy files from dir. room_types and product_types are
// required; fixture_types is optional. Both .json and .yaml files are
// accepted. A load failure here is fatal to the run: nothing downstream
// can categorize without taxonomies.
func Load(dir string) (*Set, error) {
	var set Set

	var rooms roomFile
	if err := loadOne(dir, "room_types", &rooms); err != nil {
		return nil, err
	}
	set.Rooms = rooms.RoomTypes

	var products productFile
	if err := loadOne(dir, "product_types", &products); err != nil {
		return nil, err
	}
	set.Products = products.ProductTypes

	var fixtures fixtureFile
	if err := loadOne(dir, "fixture_types", &fixtures); err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	set.Fixtures = fixtures.FixtureTypes

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// loadOne finds <dir>/<name>.{json,yaml,yml} and decodes it into out.
func loadOne(dir, name string, out any) error {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return eris.Wrapf(err, "taxonomy: read %s", path)
		}
		if strings.HasSuffix(ext, "json") {
			if err := json.Unmarshal(data, out); err != nil {
				return eris.Wrapf(err, "taxonomy: parse %s", path)
			}
		} else {
			if err := yaml.Unmarshal(data, out); err != nil {
				return eris.Wrapf(err, "taxonomy: parse %s", path)
			}
		}
		return nil
	}
	return eris.Wrapf(os.ErrNotExist, "taxonomy: no %s file in %s", name, dir)
}

// Default returns the built-in taxonomies, used when no taxonomy.dir is
// configured. Mirrors the catalog's production category lists.
func Default() *Set {
	return &Set{
		Rooms: []Category{
			{Name: "Living Room", Keywords: []string{"living room", "living", "family room"}},
			{Name: "Bedroom", Keywords: []string{"bedroom", "bed room"}},
			{Name: "Dining Room", Keywords: []string{"dining room", "dining"}},
			{Name: "Office", Keywords: []string{"office", "library", "study"}},
			{Name: "Kitchen", Keywords: []string{"kitchen"}},
			{Name: "Bathroom", Keywords: []string{"bathroom", "bath"}},
			{Name: "Entryway", Keywords: []string{"entryway", "entrance", "foyer", "hallway"}},
			{Name: "Outdoor", Keywords: []string{"outdoor", "patio", "pool"}},
			{Name: "Bar", Keywords: []string{"bar"}},
		},
		Products: []Category{
			{Name: "Bed", Keywords: []string{"bed", "canopy bed", "panel bed", "headboard"}},
			{Name: "Nightstand", Keywords: []string{"nightstand", "bedside table", "bedside"}},
			{Name: "Dresser", Keywords: []string{"dresser", "chest"}},
			{Name: "Sofa", Keywords: []string{"sofa", "sectional", "loveseat", "settee"}},
			{Name: "Chair", Keywords: []string{"chair", "chaise", "recliner"}},
			{Name: "Ottoman", Keywords: []string{"ottoman", "pouf"}},
			{Name: "Bench", Keywords: []string{"bench", "banquette"}},
			{Name: "Table", Keywords: []string{"table", "dining table", "cocktail table", "console table"}},
			{Name: "Side Table", Keywords: []string{"side table", "end table", "drink table", "spot table"}},
			{Name: "Desk", Keywords: []string{"desk", "writing table", "secretary"}},
			{Name: "Console", Keywords: []string{"console", "credenza", "sideboard", "buffet"}},
			{Name: "Bookcase", Keywords: []string{"bookcase", "bookshelf", "etagere"}},
			{Name: "Cabinet", Keywords: []string{"cabinet", "display cabinet", "armoire"}},
			{Name: "Stool", Keywords: []string{"stool", "bar stool", "counter stool"}},
			{Name: "Bar Cart", Keywords: []string{"bar cart", "bar cabinet"}},
			{Name: "Mirror", Keywords: []string{"mirror"}},
			{Name: Lighting, Keywords: []string{"lamp", "chandelier", "sconce", "pendant", "lantern", "flush mount", "torchiere", "light"}},
			{Name: "Rug", Keywords: []string{"rug", "runner"}},
			{Name: "Pillow", Keywords: []string{"pillow", "cushion", "throw"}},
			{Name: "Accent", Keywords: []string{"accent", "tray", "vase", "sculpture", "plant stand"}},
		},
		Fixtures: []Category{
			{Name: "Chandelier", Keywords: []string{"chandelier"}},
			{Name: "Pendant", Keywords: []string{"pendant"}},
			{Name: "Wall Sconce", Keywords: []string{"sconce", "wall light"}},
			{Name: "Table Lamp", Keywords: []string{"table lamp", "desk lamp", "accent lamp"}},
			{Name: "Floor Lamp", Keywords: []string{"floor lamp", "torchiere"}},
			{Name: "Flush Mount", Keywords: []string{"flush mount", "ceiling light"}},
			{Name: "Lantern", Keywords: []string{"lantern"}},
		},
	}
}
