package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a brute-force in-memory Store. Each (owner, namespace)
// partition keeps its records in insertion order, which doubles as the stable
// tiebreak for equal scores.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[partitionKey][]Record
}

type partitionKey struct {
	owner     string
	namespace string
}

// NewMemoryStore creates an empty in-memory index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[partitionKey][]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	rec.Dims = len(rec.Vector)
	rec.Vector = append([]float64(nil), rec.Vector...)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := partitionKey{owner: rec.Owner, namespace: rec.Namespace}
	part := s.partitions[key]
	for i := range part {
		if part[i].Ref == rec.Ref {
			// Replace in place: content and vector change together,
			// insertion position is retained.
			part[i] = rec
			return nil
		}
	}
	s.partitions[key] = append(part, rec)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, owner, namespace string, query []float64, topK int) ([]Result, error) {
	topK = clampTopK(topK)

	s.mu.RLock()
	part := s.partitions[partitionKey{owner: owner, namespace: namespace}]
	scored := make([]Result, 0, len(part))
	for _, rec := range part {
		score := Cosine(query, rec.Vector)
		if score == UnrankableScore {
			continue
		}
		scored = append(scored, Result{Ref: rec.Ref, Content: rec.Content, Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Count returns the number of records in one partition.
func (s *MemoryStore) Count(owner, namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partitionKey{owner: owner, namespace: namespace}])
}
