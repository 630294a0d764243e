// Package catalog loads the item catalog the selection manager serves from.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// ErrNoItems is returned when a catalog file holds no usable items.
var ErrNoItems = errors.New("catalog has no items")

// Parse decodes a catalog document: either a JSON array of items or an object
// with an "items" array. Items without an id and repeated ids are dropped.
func Parse(data []byte, logger *slog.Logger) ([]domain.Item, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data = bytes.TrimSpace(data)
	var raw []domain.Item
	switch {
	case len(data) == 0:
		return nil, ErrNoItems
	case data[0] == '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode catalog array: %w", err)
		}
	default:
		var doc struct {
			Items []domain.Item `json:"items"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode catalog object: %w", err)
		}
		raw = doc.Items
	}

	items := make([]domain.Item, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, it := range raw {
		if it.ID == "" {
			logger.Warn("Skipping catalog item without id", "index", i)
			continue
		}
		if _, dup := seen[it.ID]; dup {
			logger.Warn("Skipping duplicate catalog item", "id", it.ID)
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return items, nil
}

// Load reads and parses the catalog file at path.
func Load(path string, logger *slog.Logger) ([]domain.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, logger)
}

type snapshot struct {
	items []domain.Item
	byID  map[string]int
}

// Catalog serves an immutable snapshot of items. Reload swaps the snapshot
// atomically; readers holding the old slice are unaffected.
type Catalog struct {
	path    string
	current atomic.Pointer[snapshot]
	logger  *slog.Logger
}

// New returns a catalog backed by path. It starts empty until Reload.
func New(path string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{path: path, logger: logger}
	c.Set(nil)
	return c
}

// Path returns the backing file.
func (c *Catalog) Path() string { return c.path }

// Reload re-reads the backing file. On failure the previous snapshot stays.
func (c *Catalog) Reload() error {
	items, err := Load(c.path, c.logger)
	if err != nil {
		return err
	}
	c.Set(items)
	c.logger.Info("Catalog loaded", "path", c.path, "items", len(items))
	return nil
}

// Set replaces the snapshot with items. The slice must not be modified afterwards.
func (c *Catalog) Set(items []domain.Item) {
	snap := &snapshot{items: items, byID: make(map[string]int, len(items))}
	for i, it := range items {
		snap.byID[it.ID] = i
	}
	c.current.Store(snap)
}

// Items returns the current snapshot. Callers must not modify it.
func (c *Catalog) Items() []domain.Item {
	return c.current.Load().items
}

// Len returns the number of items in the current snapshot.
func (c *Catalog) Len() int {
	return len(c.current.Load().items)
}

// Find looks up an item by id.
func (c *Catalog) Find(id string) (domain.Item, bool) {
	snap := c.current.Load()
	i, ok := snap.byID[id]
	if !ok {
		return domain.Item{}, false
	}
	return snap.items[i], true
}
