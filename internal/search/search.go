// Package search answers semantic queries over the ingested corpus.
//
// A query is embedded with the same model the index was built with, run
// through the vector index, and resolved back to chunk text via the store.
// Index hits whose chunk no longer exists are dropped and logged rather
// than failing the query.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/model"
	"github.com/corvid-labs/ragd/internal/store"
)

// ErrEmptyQuery indicates a blank search query.
var ErrEmptyQuery = errors.New("search: query must not be empty")

// FilterMode controls when metadata filters apply relative to the k-NN cut.
type FilterMode string

const (
	// FilterPre overfetches from the index, filters, then cuts to k.
	FilterPre FilterMode = "pre"

	// FilterPost cuts to k first, then filters; fewer than k results may
	// come back when filters reject some of the top-k.
	FilterPost FilterMode = "post"
)

// overfetchFactor is how many extra candidates FilterPre pulls per
// requested result.
const overfetchFactor = 4

// Result is one search hit, best first.
type Result struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Option configures a single Search call.
type Option func(*searchConfig)

type searchConfig struct {
	topK   int
	filter map[string]string
}

// WithTopK overrides the default number of results.
func WithTopK(k int) Option {
	return func(c *searchConfig) { c.topK = k }
}

// WithFilter restricts results to chunks of documents whose metadata
// contains every given key/value pair.
func WithFilter(filter map[string]string) Option {
	return func(c *searchConfig) { c.filter = filter }
}

// Service runs semantic searches.
// Safe for concurrent use.
type Service struct {
	store       store.Store
	index       index.Index
	embedder    model.Embedder
	defaultTopK int
	filterMode  FilterMode
	logger      *slog.Logger
}

// New creates a search Service.
func New(st store.Store, idx index.Index, emb model.Embedder, defaultTopK int, mode FilterMode, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if mode != FilterPre {
		mode = FilterPost
	}
	return &Service{
		store:       st,
		index:       idx,
		embedder:    emb,
		defaultTopK: defaultTopK,
		filterMode:  mode,
		logger:      logger,
	}
}

// Search embeds the query and returns up to k matching chunks, best first.
// An index built with a different embedding model is rejected with
// index.ErrVersionMismatch rather than compared against.
func (s *Service) Search(ctx context.Context, query string, opts ...Option) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	cfg := searchConfig{topK: s.defaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", index.ErrInvalidTopK, cfg.topK)
	}

	if ev, iv := s.embedder.ModelVersion(), s.index.ModelVersion(); ev != iv {
		return nil, fmt.Errorf("%w: embedder %q, index %q", index.ErrVersionMismatch, ev, iv)
	}

	start := time.Now()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	fetchK := cfg.topK
	if len(cfg.filter) > 0 && s.filterMode == FilterPre {
		fetchK = cfg.topK * overfetchFactor
	}

	matches, err := s.index.Query(ctx, vector, fetchK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results, err := s.resolve(ctx, matches, cfg.filter)
	if err != nil {
		return nil, err
	}
	if len(results) > cfg.topK {
		results = results[:cfg.topK]
	}

	s.logger.Debug("search completed",
		"results", len(results),
		"top_k", cfg.topK,
		"filtered", len(cfg.filter) > 0,
		"elapsed", time.Since(start),
	)
	return results, nil
}

// resolve turns index matches into chunk-backed results, applying the
// metadata filter and dropping orphaned index entries.
func (s *Service) resolve(ctx context.Context, matches []index.Match, filter map[string]string) ([]Result, error) {
	results := make([]Result, 0, len(matches))
	docCache := make(map[string]*store.Document)

	for _, m := range matches {
		chunk, err := s.store.GetChunk(ctx, m.ChunkID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Index entry without a backing chunk. The stores drifted;
				// surface it in logs and keep serving.
				s.logger.Warn("dropping orphaned index entry",
					"chunk_id", m.ChunkID, "score", m.Score)
				continue
			}
			return nil, fmt.Errorf("resolving chunk %s: %w", m.ChunkID, err)
		}

		doc, ok := docCache[chunk.DocumentID]
		if !ok {
			doc, err = s.store.GetDocument(ctx, chunk.DocumentID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("resolving document %s: %w", chunk.DocumentID, err)
			}
			docCache[chunk.DocumentID] = doc
		}

		var meta map[string]string
		if doc != nil {
			meta = doc.Metadata
		}
		if !matchesFilter(meta, filter) {
			continue
		}

		results = append(results, Result{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Text:       chunk.Text,
			Score:      m.Score,
			Metadata:   meta,
		})
	}
	return results, nil
}

// matchesFilter reports whether metadata contains every filter pair.
// An empty filter matches everything.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if got, ok := metadata[k]; !ok || got != want {
			return false
		}
	}
	return true
}
