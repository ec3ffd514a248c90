// Package options implements the pointer options view: the fixed choice lists
// and the operations that edit a layout's options through them.
package options

// ListItem is one immutable entry of a choice list. ID is persisted into the layout.
type ListItem struct {
	ID          string `json:"id"`
	Caption     string `json:"caption"`
	Description string `json:"description,omitempty"`
}

// Catalog holds list items in registration order.
type Catalog struct {
	items []ListItem
	index map[string]int
}

// NewCatalog creates a catalog with the given items.
// A later item with a duplicate id replaces the earlier one in place.
func NewCatalog(items ...ListItem) *Catalog {
	c := &Catalog{index: make(map[string]int)}
	for _, it := range items {
		c.Register(it)
	}
	return c
}

// Register adds an item.
func (c *Catalog) Register(it ListItem) {
	if i, ok := c.index[it.ID]; ok {
		c.items[i] = it
		return
	}
	c.index[it.ID] = len(c.items)
	c.items = append(c.items, it)
}

// Find returns the item with the given id.
func (c *Catalog) Find(id string) (ListItem, bool) {
	i, ok := c.index[id]
	if !ok {
		return ListItem{}, false
	}
	return c.items[i], true
}

// Items returns a copy of all items in order.
func (c *Catalog) Items() []ListItem {
	out := make([]ListItem, len(c.items))
	copy(out, c.items)
	return out
}

// IDs returns all item ids in order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.items))
	for i, it := range c.items {
		ids[i] = it.ID
	}
	return ids
}

// Next returns the item after id, wrapping around. Unknown ids yield the first item.
func (c *Catalog) Next(id string) ListItem {
	if len(c.items) == 0 {
		return ListItem{}
	}
	i, ok := c.index[id]
	if !ok {
		return c.items[0]
	}
	return c.items[(i+1)%len(c.items)]
}

// Algorithms returns the pointer transition algorithms.
func Algorithms() *Catalog {
	return NewCatalog(
		ListItem{ID: "Strait", Caption: "Strait", Description: "Simple and highly CPU-efficient transition."},
		ListItem{ID: "Cross", Caption: "Corner crossing", Description: "In direction-friendly manner, allows traversal through corners."},
	)
}

// Priorities returns the daemon process priorities.
func Priorities() *Catalog {
	c := NewCatalog()
	for _, id := range []string{"Idle", "Below", "Normal", "Above", "High", "Realtime"} {
		c.Register(ListItem{ID: id, Caption: id})
	}
	return c
}
