package vectorindex

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a query vector for Search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// DefaultHashDims is the vector width produced by HashEmbedder.
const DefaultHashDims = 256

// HashEmbedder is a deterministic local embedder: a bag-of-words vector
// where each lowercased token is feature-hashed into a fixed-width slot,
// L2-normalized so cosine scores stay comparable across text lengths.
// It needs no external service, which keeps retrieval usable offline;
// swap in a model-backed Embedder for semantic quality.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder. dims <= 0 selects DefaultHashDims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

// Dims returns the vector width.
func (e *HashEmbedder) Dims() int { return e.dims }

// Embed hashes each token of text into the vector. Never fails; empty or
// token-free text yields a zero vector, which Search treats as unrankable.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dims)

	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range fields {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

var _ Embedder = (*HashEmbedder)(nil)
