package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine similarity index.
// Vectors are normalized at insert time so a query is a dot product per
// entry. Fine for small corpora and tests; use PostgresIndex beyond that.
type MemoryIndex struct {
	mu           sync.RWMutex
	vectors      map[string][]float32 // chunk ID -> normalized vector
	dimension    int
	modelVersion string
}

// NewMemory creates a MemoryIndex for vectors of the given dimension,
// tagged with the embedding model version.
func NewMemory(dimension int, modelVersion string) *MemoryIndex {
	return &MemoryIndex{
		vectors:      make(map[string][]float32),
		dimension:    dimension,
		modelVersion: modelVersion,
	}
}

func (idx *MemoryIndex) ModelVersion() string {
	return idx.modelVersion
}

func (idx *MemoryIndex) Insert(ctx context.Context, e Entry) error {
	return idx.InsertBatch(ctx, []Entry{e})
}

func (idx *MemoryIndex) InsertBatch(ctx context.Context, entries []Entry) error {
	// Validate and normalize before touching state so a bad entry cannot
	// leave a partial batch behind.
	normalized := make(map[string][]float32, len(entries))
	for _, e := range entries {
		if len(e.Vector) != idx.dimension {
			return fmt.Errorf("%w: entry %s has dimension %d, index expects %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Vector), idx.dimension)
		}
		normalized[e.ChunkID] = normalize(e.Vector)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, vec := range normalized {
		idx.vectors[id] = vec
	}
	return nil
}

func (idx *MemoryIndex) Remove(ctx context.Context, chunkIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range chunkIDs {
		delete(idx.vectors, id)
	}
	return nil
}

func (idx *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), idx.dimension)
	}

	q := normalize(vector)

	idx.mu.RLock()
	matches := make([]Match, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		matches = append(matches, Match{ChunkID: id, Score: dot(q, vec)})
	}
	idx.mu.RUnlock()

	// Ties break on chunk ID so repeated queries return identical order.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy. Zero vectors pass through
// unchanged; they score 0 against everything.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
