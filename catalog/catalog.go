// Package catalog is the fixed table of models a chat can be bound to.
package catalog

// FallbackLabel is shown for model ids the catalog does not know.
const FallbackLabel = "Assistant"

// ModelDescriptor describes one selectable model. ID is the wire-level key sent
// to the backend; Label is display-only.
type ModelDescriptor struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	SupportsImage bool   `json:"supports_image"`
}

// Catalog is immutable after construction.
type Catalog struct {
	models []ModelDescriptor
	byID   map[string]ModelDescriptor
}

// DefaultModels is the built-in table used when configuration does not
// provide one.
var DefaultModels = []ModelDescriptor{
	{ID: "llama-3.1-8b-instant", Label: "Llama 3.1 8B", SupportsImage: false},
	{ID: "mixtral-8x7b-32768", Label: "Mixtral 8x7B", SupportsImage: false},
	{ID: "llama-3.2-11b-vision", Label: "Llama 3.2 11B Vision", SupportsImage: true},
}

// New builds a catalog from models. Entries with an empty id are skipped and
// later duplicates of an id are ignored. An empty input yields DefaultModels.
func New(models []ModelDescriptor) *Catalog {
	if len(models) == 0 {
		models = DefaultModels
	}
	c := &Catalog{byID: make(map[string]ModelDescriptor, len(models))}
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		if _, dup := c.byID[m.ID]; dup {
			continue
		}
		if m.Label == "" {
			m.Label = m.ID
		}
		c.byID[m.ID] = m
		c.models = append(c.models, m)
	}
	if len(c.models) == 0 {
		return New(DefaultModels)
	}
	return c
}

// Label returns the display label for id, or FallbackLabel.
func (c *Catalog) Label(id string) string {
	if m, ok := c.byID[id]; ok {
		return m.Label
	}
	return FallbackLabel
}

// SupportsImage reports whether id accepts image input. Unknown ids do not.
func (c *Catalog) SupportsImage(id string) bool {
	return c.byID[id].SupportsImage
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id string) (ModelDescriptor, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Models returns the descriptors in table order.
func (c *Catalog) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Default returns the first model in the table.
func (c *Catalog) Default() ModelDescriptor {
	return c.models[0]
}
