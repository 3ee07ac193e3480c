package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests.
// Each word hashes into one dimension, so texts sharing words produce
// vectors with higher cosine similarity and identical texts embed
// identically across calls. No normalization; consumers normalize.
type HashEmbedder struct {
	Dimension int
	Version   string

	// Err, when set, is returned by every call. Lets tests exercise
	// embedding failure paths.
	Err error

	mu    sync.Mutex
	calls int
}

// NewHashEmbedder creates a HashEmbedder with the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{Dimension: dimension, Version: "test-embedder-v1"}
}

func (e *HashEmbedder) ModelVersion() string {
	return e.Version
}

// Calls reports how many embed calls were made.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.Dimension)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[int(h.Sum32())%e.Dimension]++
		}
		out[i] = vec
	}
	return out, nil
}
