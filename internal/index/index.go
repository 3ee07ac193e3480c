// Package index provides the vector similarity index over chunk embeddings.
//
// Two implementations share the Index contract: PostgresIndex (pgvector,
// cosine distance over an HNSW index) and MemoryIndex (brute-force cosine
// over normalized vectors). Both tag their entries with the embedding
// model version so a query embedded with a different model is rejected
// instead of silently returning nonsense.
package index

import (
	"context"
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidTopK indicates a query with k <= 0.
	ErrInvalidTopK = errors.New("index: top-k must be positive")

	// ErrVersionMismatch indicates the query vector was produced by a
	// different embedding model than the indexed vectors.
	ErrVersionMismatch = errors.New("index: embedding model version mismatch")

	// ErrDimensionMismatch indicates a vector whose dimension differs from
	// the index's configured dimension.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
)

// Entry pairs a chunk ID with its embedding vector.
type Entry struct {
	ChunkID string
	Vector  []float32
}

// Match is one k-NN result. Score is cosine similarity in [-1, 1],
// higher is closer.
type Match struct {
	ChunkID string
	Score   float64
}

// Index stores chunk embeddings and answers k-nearest-neighbor queries.
// All methods are safe for concurrent use.
type Index interface {
	// Insert adds or overwrites one entry.
	Insert(ctx context.Context, e Entry) error

	// InsertBatch adds or overwrites entries. Either all entries are
	// applied or none.
	InsertBatch(ctx context.Context, entries []Entry) error

	// Remove drops entries by chunk ID. Unknown IDs are ignored.
	Remove(ctx context.Context, chunkIDs []string) error

	// Query returns up to k nearest entries by cosine similarity, best
	// first, with deterministic tie-breaking. k <= 0 is ErrInvalidTopK.
	// An empty index returns an empty slice.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// ModelVersion returns the embedding model tag the index was built with.
	ModelVersion() string
}
