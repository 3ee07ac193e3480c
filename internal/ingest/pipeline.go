package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/model"
	"github.com/corvid-labs/ragd/internal/store"
)

// Sentinel errors for ingestion.
var (
	// ErrIngestionFailed wraps any failure during ingestion. When returned,
	// no partial chunk state for the document became visible.
	ErrIngestionFailed = errors.New("ingest: ingestion failed")

	// ErrEmptyDocument indicates the source resolved to no usable text.
	ErrEmptyDocument = errors.New("ingest: document has no text content")

	// ErrNoSource indicates the request carried neither text nor a source URI.
	ErrNoSource = errors.New("ingest: request needs text or source_uri")
)

// Request describes one document to ingest. Exactly one of Text or
// SourceURI must be set; ID is optional (a UUID is assigned when absent).
type Request struct {
	ID        string            `json:"id,omitempty"`
	Text      string            `json:"text,omitempty"`
	SourceURI string            `json:"source_uri,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Result reports a completed ingestion.
type Result struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Replaced   bool   `json:"replaced"` // true when the document existed before
}

// Options configures a Pipeline.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int           // texts per embedding call
	FetchTimeout time.Duration // readability fetch timeout for URL sources
}

// Pipeline ingests documents: chunk, embed, persist, index.
// Safe for concurrent use; ingestions of the same document ID serialize in
// the store's chunk-replacement boundary.
type Pipeline struct {
	store    store.Store
	index    index.Index
	embedder model.Embedder
	chunker  Chunker
	opts     Options
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(st store.Store, idx index.Index, emb model.Embedder, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Pipeline{
		store:    st,
		index:    idx,
		embedder: emb,
		chunker:  NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		opts:     opts,
		logger:   logger,
	}
}

// Ingest processes one document end to end. It is idempotent per document
// ID: re-ingesting replaces the previous chunks and vectors. On failure no
// partial chunk state for the document persists.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	text := req.Text
	metadata := req.Metadata
	if text == "" {
		if req.SourceURI == "" {
			return nil, ErrNoSource
		}
		fetched, title, err := resolveSource(req.SourceURI, p.opts.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
		}
		text = fetched
		if title != "" {
			if metadata == nil {
				metadata = map[string]string{}
			}
			if _, ok := metadata["title"]; !ok {
				metadata["title"] = title
			}
		}
	}

	pieces := p.chunker.Chunk(text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w (source %q)", ErrEmptyDocument, req.SourceURI)
	}

	docID := req.ID
	if docID == "" {
		docID = uuid.NewString()
	}

	prev, err := p.store.GetDocument(ctx, docID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: checking document %s: %v", ErrIngestionFailed, docID, err)
	}
	replaced := prev != nil

	vectors, err := p.embedAll(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding document %s: %w", ErrIngestionFailed, docID, err)
	}

	chunks := make([]store.Chunk, len(pieces))
	entries := make([]index.Entry, len(pieces))
	newIDs := make(map[string]bool, len(pieces))
	for i, piece := range pieces {
		id := store.ChunkID(docID, i)
		chunks[i] = store.Chunk{ID: id, DocumentID: docID, Ordinal: i, Text: piece}
		entries[i] = index.Entry{ChunkID: id, Vector: vectors[i]}
		newIDs[id] = true
	}

	// Read outside the replacement boundary: a concurrent re-ingest of the
	// same document can change the set before the lock is taken, in which
	// case its leftover vectors fall to the orphan handling in search
	// instead of the stale sweep below.
	oldIDs, err := p.store.ChunkIDs(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing old chunks of %s: %v", ErrIngestionFailed, docID, err)
	}

	if err := p.store.PutDocument(ctx, store.Document{
		ID:        docID,
		SourceURI: req.SourceURI,
		Metadata:  metadata,
	}); err != nil {
		return nil, fmt.Errorf("%w: storing document %s: %v", ErrIngestionFailed, docID, err)
	}

	// Vectors are written inside the chunk-replacement boundary so the
	// store and index move together. If anything in the boundary fails,
	// the store rolls back and the added vectors are compensated away.
	err = p.store.ReplaceChunks(ctx, docID, chunks, func(ctx context.Context) error {
		return p.index.InsertBatch(ctx, entries)
	})
	if err != nil {
		p.compensate(docID, oldIDs, newIDs, prev)
		return nil, fmt.Errorf("%w: replacing chunks of %s: %w", ErrIngestionFailed, docID, err)
	}

	// A shorter re-ingestion leaves vectors for ordinals past the new
	// count; drop them now that the replacement committed.
	var stale []string
	for _, id := range oldIDs {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := p.index.Remove(ctx, stale); err != nil {
			p.logger.Warn("failed to remove stale vectors, search will drop them as orphans",
				"document_id", docID, "count", len(stale), "error", err)
		}
	}

	p.logger.Info("ingested document",
		"document_id", docID,
		"chunks", len(chunks),
		"replaced", replaced,
		"elapsed", time.Since(start),
	)
	return &Result{DocumentID: docID, Chunks: len(chunks), Replaced: replaced}, nil
}

// Remove deletes a document's chunks and their vectors.
func (p *Pipeline) Remove(ctx context.Context, docID string) error {
	ids, err := p.store.Delete(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.index.Remove(ctx, ids); err != nil {
		// Chunks are gone; leftover vectors are orphans that search drops.
		p.logger.Warn("failed to remove vectors of deleted document",
			"document_id", docID, "count", len(ids), "error", err)
		return fmt.Errorf("removing vectors of %s: %w", docID, err)
	}
	return nil
}

// embedAll embeds pieces in configured batch sizes, preserving order.
func (p *Pipeline) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for i := 0; i < len(pieces); i += p.opts.BatchSize {
		end := i + p.opts.BatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		batch, err := p.embedder.EmbedBatch(ctx, pieces[i:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// compensate removes vectors inserted for a replacement that did not
// commit, then undoes the document upsert: the row is dropped when this
// ingestion created it, or restored to its prior metadata and source when
// it replaced an existing document. Vector IDs shared with the previous
// chunk set are kept: their rows were overwritten in place and still
// resolve to the rolled-back chunks, just possibly with stale embeddings
// until the next re-ingest.
func (p *Pipeline) compensate(docID string, oldIDs []string, newIDs map[string]bool, prev *store.Document) {
	// Fresh context: the request context may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	old := make(map[string]bool, len(oldIDs))
	for _, id := range oldIDs {
		old[id] = true
	}
	var added []string
	for id := range newIDs {
		if !old[id] {
			added = append(added, id)
		}
	}
	if len(added) > 0 {
		if err := p.index.Remove(ctx, added); err != nil {
			p.logger.Warn("failed to compensate vectors after aborted ingestion",
				"document_id", docID, "count", len(added), "error", err)
		}
	}

	if prev == nil {
		if _, err := p.store.Delete(ctx, docID); err != nil && !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("failed to remove document row after aborted ingestion",
				"document_id", docID, "error", err)
		}
	} else if err := p.store.PutDocument(ctx, *prev); err != nil {
		p.logger.Warn("failed to restore document metadata after aborted ingestion",
			"document_id", docID, "error", err)
	}
}
