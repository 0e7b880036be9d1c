// Package registry persists the index of vector databases.
//
// The index is a single JSON document mapping each database name to the
// parameters it was created with:
//
//	<data_dir>/
//	├── databases.json        ← this registry
//	├── {database}/           ← storage owned by the vector backend
//	└── {database}/
//
// Saves are atomic (write to a temporary file, fsync, rename) so a crash
// never leaves a half-written index behind.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// FileName is the index file name inside the data directory.
const FileName = "databases.json"

// MaxNameLength is the longest accepted database name, in characters.
const MaxNameLength = 100

const currentVersion = 1

// Errors for registry operations.
var (
	ErrNotFound     = errors.New("database not found")
	ErrInvalidName  = errors.New("invalid name: only letters, numbers, spaces, hyphens, and underscores are allowed")
	ErrCorruptIndex = errors.New("database index corrupted")
)

// Entry describes a registered database.
type Entry struct {
	CreatedAt  time.Time `json:"created_at"`
	VectorSize int       `json:"vector_size"`
	ModelID    string    `json:"model_id"`
}

// indexFile is the persisted registry structure.
type indexFile struct {
	Version   int              `json:"version"`
	Databases map[string]Entry `json:"databases"`
}

// legacyEntry is the flat per-database record written by earlier servers,
// which keyed the model under "model" and kept no version field.
type legacyEntry struct {
	CreatedAt  string `json:"created_at"`
	VectorSize int    `json:"vector_size"`
	Model      string `json:"model"`
	ModelID    string `json:"model_id"`
}

// Registry is the in-memory mirror of the database index.
type Registry struct {
	mu       sync.RWMutex
	dataDir  string
	filePath string
	entries  map[string]Entry
	corrupt  error // non-nil while the on-disk index could not be parsed
}

// New creates a registry rooted at dataDir. It creates the directory if
// needed but does not read the index; call Load for that.
func New(dataDir string) (*Registry, error) {
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Registry{
		dataDir:  dataDir,
		filePath: filepath.Join(dataDir, FileName),
		entries:  make(map[string]Entry),
	}, nil
}

// ValidateName checks that name contains only letters, digits, spaces,
// hyphens, and underscores, is not blank, carries no surrounding whitespace,
// and fits within MaxNameLength characters. Accepted names are always safe
// as a single path element.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w (max %d characters)", ErrInvalidName, MaxNameLength)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w (no leading or trailing whitespace)", ErrInvalidName)
	}
	for _, c := range name {
		switch {
		case unicode.IsLetter(c), unicode.IsDigit(c):
		case c == ' ', c == '-', c == '_':
		default:
			return ErrInvalidName
		}
	}
	return nil
}

// Load reads the index from disk, replacing the in-memory state.
//
// A missing file yields an empty index. If the file or some of its entries
// cannot be parsed, Load returns an error wrapping ErrCorruptIndex together
// with whatever entries did parse; the registry then refuses to Save until
// a clean Load succeeds.
func (r *Registry) Load() (map[string]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	r.entries = entries
	if errors.Is(err, ErrCorruptIndex) {
		r.corrupt = err
	} else {
		r.corrupt = nil
	}
	return copyEntries(entries), err
}

// Save writes the in-memory index to disk atomically.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.corrupt != nil {
		return fmt.Errorf("refusing to overwrite index: %w", r.corrupt)
	}

	data, err := json.MarshalIndent(indexFile{
		Version:   currentVersion,
		Databases: r.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tmpPath := r.filePath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index: %w", err)
	}

	if err := os.Rename(tmpPath, r.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index: %w", err)
	}
	return nil
}

// Corrupt reports the error from the last Load if the index was unreadable.
func (r *Registry) Corrupt() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.corrupt
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return entry, nil
}

// Put inserts or replaces the entry for name in memory. Call Save to
// persist it.
func (r *Registry) Put(name string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry
}

// Remove deletes name from memory and returns the removed entry.
func (r *Registry) Remove(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	return entry, ok
}

// Names returns the registered database names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all entries.
func (r *Registry) Snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEntries(r.entries)
}

// Len returns the number of registered databases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Path returns the index file location.
func (r *Registry) Path() string {
	return r.filePath
}

// DataDir returns the directory holding the index.
func (r *Registry) DataDir() string {
	return r.dataDir
}

// read parses the index file. Caller must hold r.mu.
func (r *Registry) read() (map[string]Entry, error) {
	entries := make(map[string]Entry)

	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return entries, fmt.Errorf("failed to read index: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return entries, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	// Versioned layout: {"version": N, "databases": {...}}. A legacy index
	// holding a database called "version" has an object there, not a number.
	var version int
	if v, ok := raw["version"]; ok && json.Unmarshal(v, &version) == nil {
		if dbs, ok := raw["databases"]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(dbs, &nested); err != nil {
				return entries, fmt.Errorf("%w: databases: %v", ErrCorruptIndex, err)
			}
			raw = nested
		} else {
			raw = map[string]json.RawMessage{}
		}
	}

	var bad []string
	for name, msg := range raw {
		entry, err := decodeEntry(msg)
		if err != nil {
			bad = append(bad, name)
			continue
		}
		entries[name] = entry
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return entries, fmt.Errorf("%w: unreadable entries: %s", ErrCorruptIndex, strings.Join(bad, ", "))
	}
	return entries, nil
}

// decodeEntry accepts both the current and the legacy flat entry layout.
func decodeEntry(msg json.RawMessage) (Entry, error) {
	var le legacyEntry
	if err := json.Unmarshal(msg, &le); err != nil {
		return Entry{}, err
	}
	if le.VectorSize <= 0 {
		return Entry{}, fmt.Errorf("invalid vector_size %d", le.VectorSize)
	}

	entry := Entry{VectorSize: le.VectorSize, ModelID: le.ModelID}
	if entry.ModelID == "" {
		entry.ModelID = le.Model
	}
	if le.CreatedAt != "" {
		t, err := parseTime(le.CreatedAt)
		if err != nil {
			return Entry{}, err
		}
		entry.CreatedAt = t
	}
	return entry, nil
}

// parseTime accepts RFC 3339 and the offset-less ISO 8601 form produced by
// earlier servers.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func copyEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
