// Package domain contains core domain types for the tutoring item server.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Item is a catalog entry supplied by the catalog loader. The server treats it
// as read-only; only ID and Type take part in selection.
type Item struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`

	// Extra holds every other key of the source object so the item can be
	// re-emitted unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

// NormalizeType trims and lowercases an item type. The empty string means
// "no type".
func NormalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// NormalizedType returns the item's type in comparison form.
func (i Item) NormalizedType() string {
	return NormalizeType(i.Type)
}

// Field decodes an extra field into v. It reports false when the field is absent.
func (i Item) Field(key string, v any) (bool, error) {
	raw, ok := i.Extra[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode item field %q: %w", key, err)
	}
	return true, nil
}

// UnmarshalJSON keeps unknown keys in Extra.
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}

	var out Item
	for key, dst := range map[string]*string{"id": &out.ID, "type": &out.Type, "title": &out.Title} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		// Non-string values stay in Extra; selection treats them as absent.
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		*dst = s
		delete(raw, key)
	}
	if len(raw) > 0 {
		out.Extra = raw
	}
	*i = out
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (i Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Extra)+3)
	for k, v := range i.Extra {
		out[k] = v
	}
	if _, kept := i.Extra["id"]; !kept || i.ID != "" {
		out["id"] = i.ID
	}
	if _, kept := i.Extra["type"]; !kept || i.Type != "" {
		out["type"] = i.Type
	}
	if i.Title != "" {
		out["title"] = i.Title
	}
	return json.Marshal(out)
}
