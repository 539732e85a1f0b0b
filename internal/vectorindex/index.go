// Package vectorindex stores content vectors and serves nearest-neighbor
// lookups by cosine similarity.
//
// DESIGN: Records are partitioned by (owner, namespace); a search is a linear
// scan over one partition. A production scale-up would swap the Store for an
// ANN-backed index behind the same interface.
// Malformed records (empty vector, dimension mismatch,
// zero norm) rank as UnrankableScore and are excluded from results rather
// than failing the search.
package vectorindex

import (
	"context"
	"math"
)

// UnrankableScore is the score assigned when cosine similarity is undefined:
// empty vectors, mismatched lengths, or a zero norm.
const UnrankableScore = -1.0

// DefaultTopK is the result count when the caller does not specify one.
const DefaultTopK = 5

// MaxTopK caps the result count of any single search.
const MaxTopK = 50

// Record is one indexed piece of content. (Owner, Namespace, Ref) is the
// upsert identity; Dims must equal len(Vector).
type Record struct {
	Owner     string
	Namespace string
	Ref       string
	Content   string
	Vector    []float64
	Dims      int
}

// Result is one search hit.
type Result struct {
	Ref     string  `json:"ref"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Store is the similarity index contract. Implementations must tolerate
// concurrent upserts and searches; cross-partition operations never conflict.
type Store interface {
	// Upsert inserts rec, replacing any record with the same
	// (owner, namespace, ref) atomically.
	Upsert(ctx context.Context, rec Record) error
	// Search returns up to topK results from the (owner, namespace)
	// partition, ordered by descending cosine similarity against query.
	// Insertion order is the stable tiebreak for equal scores.
	Search(ctx context.Context, owner, namespace string, query []float64, topK int) ([]Result, error)
}

// Cosine returns the cosine similarity of a and b, or UnrankableScore when
// either vector is empty, lengths mismatch, or either norm is zero.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return UnrankableScore
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return UnrankableScore
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clampTopK normalizes a caller-supplied topK to [1, MaxTopK].
func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
