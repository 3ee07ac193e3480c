package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node setups.
// Chunk replacement stages the new set, runs the commit hook, then swaps
// it in under the write lock, so readers see either the old or the new
// chunk set, never a mix. Replacements for the same document serialize on
// a per-document mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	chunks   map[string]Chunk    // chunk ID -> chunk
	byDoc    map[string][]string // document ID -> ordered chunk IDs
	history  []QARecord
	docLocks sync.Map // document ID -> *sync.Mutex
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]Document),
		chunks: make(map[string]Chunk),
		byDoc:  make(map[string][]string),
	}
}

func (s *MemoryStore) docLock(docID string) *sync.Mutex {
	l, _ := s.docLocks.LoadOrStore(docID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *MemoryStore) PutDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.docs[doc.ID]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	doc.ChunkCount = len(s.byDoc[id])
	return &doc, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs))
	for id, doc := range s.docs {
		doc.ChunkCount = len(s.byDoc[id])
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs, nil
}

func (s *MemoryStore) ReplaceChunks(ctx context.Context, docID string, chunks []Chunk, commit CommitHook) error {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Hook runs before the swap. If it fails nothing changed here.
	if commit != nil {
		if err := commit(ctx); err != nil {
			return fmt.Errorf("commit hook for %s: %w", docID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byDoc[docID] {
		delete(s.chunks, id)
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		s.chunks[c.ID] = c
		ids[i] = c.ID
	}
	s.byDoc[docID] = ids

	if doc, ok := s.docs[docID]; ok {
		doc.UpdatedAt = time.Now()
		s.docs[docID] = doc
	}
	return nil
}

func (s *MemoryStore) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDoc[docID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, docID string) ([]string, error) {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[docID]; !ok {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}

	ids := s.byDoc[docID]
	for _, id := range ids {
		delete(s.chunks, id)
	}
	delete(s.byDoc, docID)
	delete(s.docs, docID)

	// Prune the per-document lock so the map does not grow with every ID
	// ever touched. A goroutine already blocked on it proceeds on the old
	// mutex, which is harmless for a now-deleted document.
	s.docLocks.Delete(docID)

	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) RecordQA(ctx context.Context, rec QARecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, rec)
	return nil
}

func (s *MemoryStore) ListQA(ctx context.Context, limit int) ([]QARecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	n := len(s.history)
	if limit > n {
		limit = n
	}
	out := make([]QARecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}
