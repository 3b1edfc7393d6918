package integration

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the static set of integration templates this service supports.
// Templates are immutable after load; lookups are safe for concurrent use.
type Catalog struct {
	templates map[string]Template
	order     []string
}

// NewCatalog builds a catalog from the given templates.
func NewCatalog(templates []Template) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template with empty id")
		}
		if !t.Category.IsValid() {
			return nil, fmt.Errorf("template %s: invalid category %q", t.ID, t.Category)
		}
		if _, exists := c.templates[t.ID]; exists {
			return nil, fmt.Errorf("duplicate template id %s", t.ID)
		}
		c.templates[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c, nil
}

// DefaultCatalog loads the catalog embedded in the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultCatalogYAML)
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(doc.Templates)
}

// Get returns the template with the given ID.
func (c *Catalog) Get(id string) (Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// List returns all active templates in catalog order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		if t := c.templates[id]; t.Active {
			out = append(out, t)
		}
	}
	return out
}

// ByCategory returns active templates in the given category, sorted by name.
func (c *Catalog) ByCategory(category Category) []Template {
	var out []Template
	for _, id := range c.order {
		if t := c.templates[id]; t.Active && t.Category == category {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
