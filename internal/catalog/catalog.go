// Package catalog holds the immutable product list the recommendation engine
// ranks from.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/text/cases"

	"github.com/temcen/shopsense/pkg/models"
)

//go:embed default_catalog.json
var defaultCatalog []byte

type Catalog struct {
	products []models.Product
	index    map[string]int
}

// Load reads the catalog from path, or from the embedded default catalog when
// path is empty. Records may use any product shape NormalizeProduct accepts.
func Load(path string, validate *validator.Validate) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		data = raw
	}

	// Decode loosely; each record is normalized below
	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	products := make([]models.Product, 0, len(records))
	for i, record := range records {
		p, err := models.NormalizeProduct(record)
		if err != nil {
			return nil, fmt.Errorf("catalog record %d: %w", i, err)
		}
		products = append(products, p)
	}

	return New(products, validate)
}

// New validates products and builds a catalog preserving their order.
func New(products []models.Product, validate *validator.Validate) (*Catalog, error) {
	if validate == nil {
		validate = validator.New()
	}

	c := &Catalog{
		products: make([]models.Product, 0, len(products)),
		index:    make(map[string]int, len(products)),
	}

	for _, p := range products {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid product %q: %w", p.ID, err)
		}
		if p.OriginalPrice != nil && *p.OriginalPrice < p.Price {
			return nil, fmt.Errorf("invalid product %q: original price below price", p.ID)
		}
		if _, dup := c.index[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}

		// Own the tags and derive popularity
		p.Tags = append([]string(nil), p.Tags...)
		p.Popularity = models.PopularityScore(p.Rating, p.ReviewCount)

		c.index[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}

	return c, nil
}

// All returns a copy of every product in catalog order.
func (c *Catalog) All() []models.Product {
	return append([]models.Product(nil), c.products...)
}

func (c *Catalog) Get(id string) (models.Product, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) Len() int {
	return len(c.products)
}

// ByCategory returns the products whose category matches, ignoring case.
func (c *Catalog) ByCategory(category string) []models.Product {
	var out []models.Product
	for _, p := range c.products {
		if SameCategory(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories in sorted order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range c.products {
		key := FoldCategory(p.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// FoldCategory returns the case-folded form used for category comparison.
func FoldCategory(category string) string {
	return cases.Fold().String(category)
}

func SameCategory(a, b string) bool {
	return FoldCategory(a) == FoldCategory(b)
}
