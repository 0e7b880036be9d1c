// Package sanitize maps database names onto backend collection names.
//
// Database names allow letters, digits, spaces, hyphens and underscores in
// any case. Qdrant collection names are safest as ^[a-z0-9_]{1,64}$, so the
// name is slugged for readability and suffixed with a hash of the exact
// name for uniqueness: "My Notes" and "my_notes" get different collections.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for collection names.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultIdentifier is used when slugging produces an empty result.
	DefaultIdentifier = "db"
)

// Slug lowercases s, replaces runs of characters outside [a-z0-9] with a
// single underscore and trims underscores at both ends. Letters outside
// ASCII are replaced too, so "Größe" becomes "gr_e".
//
// Examples:
//
//	"My Project!" -> "my_project"
//	"a--b__c"     -> "a_b_c"
//	"" or "!!!"   -> "db"
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return DefaultIdentifier
	}
	return b.String()
}

// CollectionName returns prefix + slug + "_" + hash. The slug is truncated
// so the result fits MaxIdentifierLength; the hash covers the unmodified
// name, so distinct names never share a collection.
//
// Example: CollectionName("ctxdb_", "Reading List") -> "ctxdb_reading_list_<8 hex>"
func CollectionName(prefix, name string) string {
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:4])

	slug := Slug(name)
	if room := MaxIdentifierLength - HashSuffixLength - len(prefix); len(slug) > room {
		if room < 1 {
			room = 1
		}
		slug = strings.TrimRight(slug[:room], "_")
	}
	return prefix + slug + suffix
}
