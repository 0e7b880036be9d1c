package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is used when the hash provider has no explicit size.
const DefaultHashDimension = 256

// HashProvider is a feature-hashing bag-of-words embedder. It needs no model
// download or network and produces identical vectors for identical text, so
// it suits offline development and tests. Texts sharing words score higher
// under cosine similarity than texts that share none.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a hash embedder producing vectors of size dim.
func NewHashProvider(dim int) (*HashProvider, error) {
	if dim == 0 {
		dim = DefaultHashDimension
	}
	if dim < 8 {
		return nil, fmt.Errorf("%w: hash dimension must be at least 8, got %d", ErrInvalidConfig, dim)
	}
	return &HashProvider{dimension: dim}, nil
}

// EmbedDocuments embeds each text.
func (h *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds a query exactly like a document.
func (h *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

// Dimension returns the vector size.
func (h *HashProvider) Dimension() int { return h.dimension }

// Model returns a name that encodes the vector size.
func (h *HashProvider) Model() string { return fmt.Sprintf("hash-%d", h.dimension) }

// Close is a no-op.
func (h *HashProvider) Close() error { return nil }

// vector hashes lowercased word unigrams and bigrams into signed buckets and
// L2-normalizes the result. The output is never the zero vector.
func (h *HashProvider) vector(text string) []float32 {
	vec := make([]float32, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Punctuation-only text, or features that cancelled out.
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (h *HashProvider) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
