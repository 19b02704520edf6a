package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"prodtrack/internal/track"
)

//go:embed items.json
var embeddedItems []byte

// Catalog is the read-only reference list of production items. Loaded once
// at startup; lookups never mutate it.
type Catalog struct {
	items  []track.ProductionItem
	byCode map[string]int // uppercase item code -> index
}

// Load reads a catalog from path, or the embedded reference list when path
// is empty.
func Load(path string) (*Catalog, error) {
	data := embeddedItems
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		data = b
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var items []track.ProductionItem
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog: no items")
	}

	byCode := make(map[string]int, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ItemCode) == "" {
			return nil, fmt.Errorf("catalog: item %d: empty item code", i)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("catalog: item %s: quantity must be > 0", it.ItemCode)
		}
		if it.ExpectedMinutes <= 0 {
			return nil, fmt.Errorf("catalog: item %s: time must be > 0", it.ItemCode)
		}
		key := strings.ToUpper(it.ItemCode)
		if _, dup := byCode[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate item code %s", it.ItemCode)
		}
		byCode[key] = i
	}
	return &Catalog{items: items, byCode: byCode}, nil
}

// Len returns the number of catalog items.
func (c *Catalog) Len() int { return len(c.items) }

// Items returns a copy of the full list, in catalog order.
func (c *Catalog) Items() []track.ProductionItem {
	return append([]track.ProductionItem(nil), c.items...)
}

// Lookup finds an item by code, case-insensitively (the quick-search entry
// path upcases operator input). Returns ErrItemNotFound on miss.
func (c *Catalog) Lookup(code string) (track.ProductionItem, error) {
	i, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return track.ProductionItem{}, fmt.Errorf("%w: %s", track.ErrItemNotFound, code)
	}
	return c.items[i], nil
}
