// Package store persists documents, their chunks and the Q&A history.
//
// Two implementations share the Store contract: PostgresStore (pgx pool,
// per-document advisory locks) and MemoryStore (no external dependencies,
// useful for tests and single-process setups). The vector index lives in
// internal/index; ReplaceChunks takes a commit hook so index writes can
// join the chunk-replacement boundary.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested document or chunk does not exist.
var ErrNotFound = errors.New("store: not found")

// Document is an ingested source text. Chunks carry the actual content;
// the document row carries identity and metadata.
type Document struct {
	ID         string            `json:"id"`
	SourceURI  string            `json:"source_uri,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ChunkCount int               `json:"chunk_count"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Chunk is a contiguous span of a document's text. IDs are deterministic
// (see ChunkID) so re-ingesting a document replaces chunks in place.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
}

// QARecord is one answered question, kept for the history endpoint.
type QARecord struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Citations []string  `json:"citations,omitempty"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// ChunkID builds the deterministic chunk identifier for a document ordinal.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", docID, ordinal)
}

// CommitHook runs inside the chunk-replacement boundary of ReplaceChunks,
// after the new chunks are staged and before they become visible. Returning
// an error aborts the replacement.
type CommitHook func(ctx context.Context) error

// Store is the persistence contract for documents, chunks and Q&A history.
// All methods are safe for concurrent use.
type Store interface {
	// PutDocument creates or updates a document row. Chunks are managed
	// separately via ReplaceChunks.
	PutDocument(ctx context.Context, doc Document) error

	// GetDocument returns a document by ID, or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListDocuments returns all documents, newest first.
	ListDocuments(ctx context.Context) ([]Document, error)

	// ReplaceChunks atomically replaces all chunks of a document.
	// Replacements for the same document are serialized; readers never
	// observe a partial chunk set. The commit hook, if non-nil, runs after
	// staging and before the new chunks become visible; a hook error
	// aborts the whole replacement.
	ReplaceChunks(ctx context.Context, docID string, chunks []Chunk, commit CommitHook) error

	// GetChunk returns a chunk by ID, or ErrNotFound.
	GetChunk(ctx context.Context, chunkID string) (*Chunk, error)

	// ChunkIDs returns the IDs of all chunks of a document, in ordinal order.
	// A document with no chunks yields an empty slice, not an error.
	ChunkIDs(ctx context.Context, docID string) ([]string, error)

	// Delete removes a document and its chunks, returning the removed chunk
	// IDs so the caller can drop the matching vectors. Returns ErrNotFound
	// if the document does not exist.
	Delete(ctx context.Context, docID string) ([]string, error)

	// RecordQA appends a Q&A history entry.
	RecordQA(ctx context.Context, rec QARecord) error

	// ListQA returns the most recent Q&A entries, newest first.
	ListQA(ctx context.Context, limit int) ([]QARecord, error)
}
