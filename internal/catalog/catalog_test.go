package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseArray(t *testing.T) {
	data := []byte(`[
		{"id": "q1", "type": "quiz", "title": "One", "answer_key": "B"},
		{"id": "q2", "type": "Quiz"},
		{"type": "quiz"},
		{"id": "q1", "type": "video"}
	]`)

	items, err := Parse(data, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ID != "q1" || items[0].Type != "quiz" {
		t.Errorf("Expected first item q1/quiz, got %+v", items[0])
	}

	var key string
	ok, err := items[0].Field("answer_key", &key)
	if err != nil || !ok || key != "B" {
		t.Errorf("Expected answer_key B, got %q (ok=%v, err=%v)", key, ok, err)
	}
}

func TestParseObject(t *testing.T) {
	items, err := Parse([]byte(`{"version": 2, "items": [{"id": "a", "type": "x"}]}`), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("Expected item a, got %+v", items)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("  "), nil); !errors.Is(err, ErrNoItems) {
		t.Errorf("Expected ErrNoItems, got %v", err)
	}
	if _, err := Parse([]byte("[{"), nil); err == nil {
		t.Error("Expected error for truncated JSON")
	}
}

func TestCatalogReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(`[{"id": "a", "type": "x"}]`), 0644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	c := New(path, nil)
	if c.Len() != 0 {
		t.Errorf("Expected empty catalog before reload, got %d", c.Len())
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	old := c.Items()

	if err := os.WriteFile(path, []byte(`[{"id": "a"}, {"id": "b", "type": "y"}]`), 0644); err != nil {
		t.Fatalf("Failed to rewrite catalog: %v", err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if len(old) != 1 {
		t.Errorf("Expected old snapshot untouched, got %d items", len(old))
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 items after reload, got %d", c.Len())
	}
	if it, ok := c.Find("b"); !ok || it.Type != "y" {
		t.Errorf("Expected to find b/y, got %+v (ok=%v)", it, ok)
	}
	if _, ok := c.Find("zzz"); ok {
		t.Error("Expected unknown id to be missing")
	}

	if err := os.WriteFile(path, []byte(`not json`), 0644); err != nil {
		t.Fatalf("Failed to corrupt catalog: %v", err)
	}
	if err := c.Reload(); err == nil {
		t.Error("Expected reload of corrupt file to fail")
	}
	if c.Len() != 2 {
		t.Errorf("Expected previous snapshot kept, got %d items", c.Len())
	}
}
