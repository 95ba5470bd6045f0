// Package categorize assigns room, product, and fixture categories to
// extracted products. The categorizer is pure: same name and category
// context in, same labels out, no I/O.
package categorize

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/taxonomy"
)

// Categorizer matches product names and listing context against a
// taxonomy set. Construct one per run and share it across workers; it is
// read-only after New.
type Categorizer struct {
	set *taxonomy.Set
}

func New(set *taxonomy.Set) *Categorizer {
	return &Categorizer{set: set}
}

// Apply fills RoomTypes, ProductType, and FixtureType on p using its name
// and the listing category it was discovered under.
func (c *Categorizer) Apply(p *model.CanonicalProduct, ref model.CategoryRef) {
	p.RoomTypes = c.Rooms(p.Name, ref)
	p.ProductType = c.ProductType(p.Name, ref.Label)
	if p.ProductType == taxonomy.Lighting {
		p.FixtureType = c.FixtureType(p.Name)
	} else {
		p.FixtureType = ""
	}
}

// Rooms infers room types. The listing URL's path segments are the
// strongest signal; the product name is the fallback; a product that
// matches nothing is Multi-Purpose rather than unclassified.
func (c *Categorizer) Rooms(name string, ref model.CategoryRef) []string {
	if rooms := c.roomsFromTokens(urlPathTokens(ref.URL)); len(rooms) > 0 {
		return rooms
	}
	if rooms := c.roomsFromTokens(tokenize(ref.Label)); len(rooms) > 0 {
		return rooms
	}
	if rooms := c.roomsFromTokens(tokenize(name)); len(rooms) > 0 {
		return rooms
	}
	return []string{taxonomy.MultiPurpose}
}

func (c *Categorizer) roomsFromTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	var rooms []string
	for _, room := range c.set.Rooms {
		for _, kw := range room.Keywords {
			if countPhrase(tokens, tokenize(kw)) > 0 {
				rooms = append(rooms, room.Name)
				break
			}
		}
	}
	return rooms
}

// ProductType scores every category against the product name and listing
// label. Name hits count double. The highest score wins; ties go to the
// category declared first; a zero score means Other.
func (c *Categorizer) ProductType(name, label string) string {
	nameTokens := tokenize(name)
	labelTokens := tokenize(label)

	best := taxonomy.Other
	bestScore := 0
	for _, cat := range c.set.Products {
		score := 0
		for _, kw := range cat.Keywords {
			phrase := tokenize(kw)
			score += 2 * countPhrase(nameTokens, phrase)
			score += countPhrase(labelTokens, phrase)
		}
		if score > bestScore {
			best = cat.Name
			bestScore = score
		}
	}
	return best
}

// FixtureType runs the fixture sub-taxonomy against the product name.
// Returns "" when nothing matches; callers only invoke this for lighting
// products.
func (c *Categorizer) FixtureType(name string) string {
	tokens := tokenize(name)

	best := ""
	bestScore := 0
	for _, fix := range c.set.Fixtures {
		score := 0
		for _, kw := range fix.Keywords {
			score += countPhrase(tokens, tokenize(kw))
		}
		if score > bestScore {
			best = fix.Name
			bestScore = score
		}
	}
	return best
}

// urlPathTokens lowercases the URL path and splits its segments on the
// separators vendors use in listing slugs.
func urlPathTokens(raw string) []string {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return tokenize(u.Path)
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit, so "living-room_furniture/sale" and "Living Room Furniture" both
// yield comparable token streams.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// countPhrase counts non-overlapping occurrences of phrase as a
// consecutive token run inside tokens.
func countPhrase(tokens, phrase []string) int {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return 0
	}
	count := 0
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			count++
			i += len(phrase) - 1
		}
	}
	return count
}
