// Package identity derives content-addressed document identifiers.
//
// A document's ID is a pure function of its text and caller metadata, so
// re-adding the same snippet lands on the same point and overwrites it
// instead of creating a duplicate.
package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// DocumentID returns a UUID-shaped identifier for text and metadata.
//
// The digest covers the text followed by the canonical JSON encoding of
// metadata (keys sorted at every level). Empty or nil metadata contributes
// nothing, so DocumentID(t, nil) == DocumentID(t, map[string]any{}).
// Only the first 16 bytes of the SHA-256 digest are used.
func DocumentID(text string, metadata map[string]any) string {
	h := sha256.New()
	h.Write([]byte(text))
	if len(metadata) > 0 {
		h.Write(Canonical(metadata))
	}
	sum := h.Sum(nil)

	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// FromBytes only fails on a length mismatch.
		panic(fmt.Sprintf("identity: %v", err))
	}
	return id.String()
}

// Canonical encodes metadata as compact JSON with keys sorted at every
// nesting level and HTML escaping disabled. Values that cannot be encoded
// are replaced by their fmt representation so the function never fails.
func Canonical(metadata map[string]any) []byte {
	var buf bytes.Buffer
	writeValue(&buf, metadata)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v any) {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeScalar(buf, k)
			buf.WriteByte(':')
			writeValue(buf, tv[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range tv {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, item)
		}
		buf.WriteByte(']')
	default:
		writeScalar(buf, v)
	}
}

func writeScalar(buf *bytes.Buffer, v any) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		tmp.Reset()
		_ = enc.Encode(fmt.Sprintf("%v", v))
	}
	// Encode appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
}
