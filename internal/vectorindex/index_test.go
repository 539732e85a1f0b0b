package vectorindex

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine_Identical(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 1.0, Cosine([]float64{3, 4}, []float64{3, 4}), 1e-9)
}

func TestCosine_Orthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestCosine_Opposite(t *testing.T) {
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestCosine_Unrankable(t *testing.T) {
	assert.Equal(t, UnrankableScore, Cosine(nil, []float64{1}))
	assert.Equal(t, UnrankableScore, Cosine([]float64{1}, nil))
	assert.Equal(t, UnrankableScore, Cosine([]float64{1, 2}, []float64{1}))
	assert.Equal(t, UnrankableScore, Cosine([]float64{0, 0}, []float64{1, 0}))
}

// storeUnderTest runs the shared Store contract against an implementation.
func storeUnderTest(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("search orders by descending score", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u1", Namespace: "notes", Ref: "far", Content: "far", Vector: []float64{0, 1}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u1", Namespace: "notes", Ref: "near", Content: "near", Vector: []float64{1, 0.1}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u1", Namespace: "notes", Ref: "exact", Content: "exact", Vector: []float64{1, 0}}))

		results, err := store.Search(ctx, "u1", "notes", []float64{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "exact", results[0].Ref)
		assert.Equal(t, "near", results[1].Ref)
		assert.Equal(t, "far", results[2].Ref)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("upsert replaces by identity", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u2", Namespace: "notes", Ref: "a", Content: "v1", Vector: []float64{1, 0}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u2", Namespace: "notes", Ref: "a", Content: "v2", Vector: []float64{0, 1}}))

		results, err := store.Search(ctx, "u2", "notes", []float64{0, 1}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].Ref)
		assert.Equal(t, "v2", results[0].Content)
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	})

	t.Run("mismatched dimensions never surface", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u3", Namespace: "notes", Ref: "good", Content: "good", Vector: []float64{1, 0}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u3", Namespace: "notes", Ref: "short", Content: "short", Vector: []float64{1}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u3", Namespace: "notes", Ref: "zero", Content: "zero", Vector: []float64{0, 0}}))

		results, err := store.Search(ctx, "u3", "notes", []float64{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "good", results[0].Ref)
	})

	t.Run("equal scores keep insertion order", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u4", Namespace: "notes", Ref: "first", Content: "first", Vector: []float64{1, 0}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u4", Namespace: "notes", Ref: "second", Content: "second", Vector: []float64{1, 0}}))

		results, err := store.Search(ctx, "u4", "notes", []float64{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "first", results[0].Ref)
		assert.Equal(t, "second", results[1].Ref)
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
		assert.InDelta(t, 1.0, results[1].Score, 1e-9)
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u5", Namespace: "code", Ref: "r", Content: "code", Vector: []float64{1, 0}}))
		require.NoError(t, store.Upsert(ctx, Record{Owner: "u5", Namespace: "notes", Ref: "r", Content: "notes", Vector: []float64{1, 0}}))

		results, err := store.Search(ctx, "u5", "code", []float64{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "code", results[0].Content)

		results, err = store.Search(ctx, "u6", "code", []float64{1, 0}, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("topK caps results", func(t *testing.T) {
		for _, ref := range []string{"a", "b", "c", "d"} {
			require.NoError(t, store.Upsert(ctx, Record{Owner: "u7", Namespace: "notes", Ref: ref, Content: ref, Vector: []float64{1, 0}}))
		}
		results, err := store.Search(ctx, "u7", "notes", []float64{1, 0}, 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	storeUnderTest(t, store)
}

func TestMemoryStore_ConcurrentUpsertAndSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			refs := []string{"a", "b", "c"}
			for i := 0; i < 50; i++ {
				_ = store.Upsert(ctx, Record{
					Owner: "shared", Namespace: "ns", Ref: refs[i%3],
					Content: "c", Vector: []float64{1, float64(i)},
				})
				_, _ = store.Search(ctx, "shared", "ns", []float64{1, 0}, 3)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 3, store.Count("shared", "ns"))
}
