package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid alphanumeric", "notes", false},
		{"valid with hyphen", "my-notes", false},
		{"valid with underscore", "my_notes", false},
		{"valid with space", "reading list", false},
		{"valid with numbers", "kb2024", false},
		{"valid unicode letters", "café", false},
		{"valid max length", strings.Repeat("a", MaxNameLength), false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"leading space", " notes", true},
		{"trailing space", "notes ", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"contains dot", "my.notes", true},
		{"path traversal dotdot", "..", true},
		{"contains slash", "my/notes", true},
		{"contains backslash", "my\\notes", true},
		{"contains nul", "my\x00notes", true},
		{"contains tab", "my\tnotes", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}

func TestRegistry_LoadMissingFile(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	entries, err := r.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestRegistry_SaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()

	r, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Put("kb", Entry{CreatedAt: created, VectorSize: 384, ModelID: "all-MiniLM-L6-v2"})
	r.Put("notes", Entry{CreatedAt: created, VectorSize: 384, ModelID: "all-MiniLM-L6-v2"})

	if err := r.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, FileName+".tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind after save")
	}

	info, err := os.Stat(r.Path())
	if err != nil {
		t.Fatalf("stat index: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("index permissions = %v, want 0600", perm)
	}

	r2, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	entries, err := r2.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	kb := entries["kb"]
	if kb.VectorSize != 384 || kb.ModelID != "all-MiniLM-L6-v2" || !kb.CreatedAt.Equal(created) {
		t.Errorf("entries[kb] = %+v", kb)
	}
}

func TestRegistry_LegacyFormat(t *testing.T) {
	tmpDir := t.TempDir()
	legacy := `{
  "research": {"created_at": "2024-05-01T10:20:30.123456", "vector_size": 384, "model": "all-MiniLM-L6-v2"},
  "version": {"created_at": "2024-05-02T10:20:30", "vector_size": 384, "model": "all-MiniLM-L6-v2"}
}`
	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(legacy), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	entries, err := r.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	e := entries["research"]
	if e.ModelID != "all-MiniLM-L6-v2" {
		t.Errorf("ModelID = %q, want legacy model name", e.ModelID)
	}
	if e.CreatedAt.Year() != 2024 || e.CreatedAt.Nanosecond() != 123456000 {
		t.Errorf("CreatedAt = %v", e.CreatedAt)
	}

	// Saving upgrades the file to the versioned layout.
	if err := r.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"databases"`) {
		t.Errorf("saved index is not versioned: %s", data)
	}
}

func TestRegistry_CorruptIndex(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = r.Load()
	if !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("Load error = %v, want ErrCorruptIndex", err)
	}
	if r.Corrupt() == nil {
		t.Error("Corrupt() = nil after corrupt load")
	}

	r.Put("kb", Entry{VectorSize: 4})
	if err := r.Save(); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("Save error = %v, want ErrCorruptIndex", err)
	}

	data, _ := os.ReadFile(r.Path())
	if string(data) != "{not json" {
		t.Error("corrupt index was overwritten")
	}
}

func TestRegistry_PartiallyCorruptIndex(t *testing.T) {
	tmpDir := t.TempDir()
	content := `{"version": 1, "databases": {
  "good": {"created_at": "2025-01-01T00:00:00Z", "vector_size": 8, "model_id": "m"},
  "bad": {"created_at": 42, "vector_size": 8},
  "zero": {"vector_size": 0}
}}`
	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	entries, err := r.Load()
	if !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("Load error = %v, want ErrCorruptIndex", err)
	}
	if !strings.Contains(err.Error(), "bad, zero") {
		t.Errorf("error %q does not name the unreadable entries", err)
	}
	if _, ok := entries["good"]; !ok || len(entries) != 1 {
		t.Errorf("entries = %v, want only good", entries)
	}
	if !r.Exists("good") {
		t.Error("parsed entry not retained in memory")
	}
}

func TestRegistry_GetPutRemove(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}

	r.Put("b", Entry{VectorSize: 3})
	r.Put("a", Entry{VectorSize: 3})
	if !r.Exists("a") || r.Len() != 2 {
		t.Fatal("Put did not register entries")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}

	if _, ok := r.Remove("a"); !ok {
		t.Error("Remove(a) reported missing")
	}
	if _, ok := r.Remove("a"); ok {
		t.Error("second Remove(a) reported present")
	}
	if r.Exists("a") {
		t.Error("a still exists after Remove")
	}

	snap := r.Snapshot()
	snap["c"] = Entry{}
	if r.Exists("c") {
		t.Error("Snapshot shares state with registry")
	}
}
