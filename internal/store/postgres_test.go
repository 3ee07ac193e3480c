package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/log"
	"github.com/corvid-labs/ragd/internal/store"
	"github.com/corvid-labs/ragd/internal/testutil"
)

// TestPostgresBackend exercises the pgx store and the pgvector index
// against a real database in one container to keep the test cheap.
func TestPostgresBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := log.NewNop()
	st := store.NewPostgres(db.Pool, logger)
	idx := index.NewPostgres(db.Pool, 768, "test-model-v1", logger)

	vec := func(seed float32) []float32 {
		v := make([]float32, 768)
		v[0] = 1
		v[1] = seed
		return v
	}

	t.Run("document round trip", func(t *testing.T) {
		err := st.PutDocument(ctx, store.Document{
			ID:        "doc1",
			SourceURI: "file.txt",
			Metadata:  map[string]string{"lang": "en"},
		})
		if err != nil {
			t.Fatalf("PutDocument: %v", err)
		}

		doc, err := st.GetDocument(ctx, "doc1")
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if doc.SourceURI != "file.txt" || doc.Metadata["lang"] != "en" {
			t.Errorf("document = %+v", doc)
		}

		if _, err := st.GetDocument(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetDocument(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("chunk replacement", func(t *testing.T) {
		chunks := []store.Chunk{
			{ID: store.ChunkID("doc1", 0), DocumentID: "doc1", Ordinal: 0, Text: "first chunk"},
			{ID: store.ChunkID("doc1", 1), DocumentID: "doc1", Ordinal: 1, Text: "second chunk"},
		}
		if err := st.ReplaceChunks(ctx, "doc1", chunks, nil); err != nil {
			t.Fatalf("ReplaceChunks: %v", err)
		}

		ids, err := st.ChunkIDs(ctx, "doc1")
		if err != nil {
			t.Fatalf("ChunkIDs: %v", err)
		}
		if len(ids) != 2 || ids[0] != "doc1:0" {
			t.Errorf("ChunkIDs = %v", ids)
		}

		c, err := st.GetChunk(ctx, "doc1:1")
		if err != nil {
			t.Fatalf("GetChunk: %v", err)
		}
		if c.Text != "second chunk" || c.Ordinal != 1 {
			t.Errorf("chunk = %+v", c)
		}

		// Shrinking replacement drops the extra row.
		if err := st.ReplaceChunks(ctx, "doc1", chunks[:1], nil); err != nil {
			t.Fatalf("ReplaceChunks shrink: %v", err)
		}
		if _, err := st.GetChunk(ctx, "doc1:1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetChunk(doc1:1) = %v, want ErrNotFound", err)
		}
	})

	t.Run("hook failure rolls back", func(t *testing.T) {
		hookErr := errors.New("refused")
		replacement := []store.Chunk{
			{ID: "doc1:0", DocumentID: "doc1", Ordinal: 0, Text: "overwritten"},
		}
		err := st.ReplaceChunks(ctx, "doc1", replacement, func(context.Context) error {
			return hookErr
		})
		if !errors.Is(err, hookErr) {
			t.Fatalf("err = %v, want the hook error", err)
		}
		c, err := st.GetChunk(ctx, "doc1:0")
		if err != nil {
			t.Fatalf("GetChunk: %v", err)
		}
		if c.Text != "first chunk" {
			t.Errorf("chunk text = %q after rollback", c.Text)
		}
	})

	t.Run("vector insert and query", func(t *testing.T) {
		entries := []index.Entry{
			{ChunkID: "doc1:0", Vector: vec(0)},
			{ChunkID: "other:0", Vector: vec(5)},
		}
		if err := idx.InsertBatch(ctx, entries); err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}

		matches, err := idx.Query(ctx, vec(0), 2)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("got %d matches", len(matches))
		}
		if matches[0].ChunkID != "doc1:0" {
			t.Errorf("top match = %q, want doc1:0", matches[0].ChunkID)
		}
		if matches[0].Score < matches[1].Score {
			t.Error("scores not descending")
		}

		if _, err := idx.Query(ctx, vec(0), 0); !errors.Is(err, index.ErrInvalidTopK) {
			t.Errorf("Query(k=0) = %v, want ErrInvalidTopK", err)
		}
	})

	t.Run("version filter hides foreign vectors", func(t *testing.T) {
		otherIdx := index.NewPostgres(db.Pool, 768, "test-model-v2", logger)
		matches, err := otherIdx.Query(ctx, vec(0), 10)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("v2 index sees %d v1 vectors", len(matches))
		}
	})

	t.Run("vector upsert overwrites", func(t *testing.T) {
		if err := idx.Insert(ctx, index.Entry{ChunkID: "doc1:0", Vector: vec(9)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		matches, err := idx.Query(ctx, vec(9), 1)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(matches) != 1 || matches[0].ChunkID != "doc1:0" {
			t.Errorf("matches = %v", matches)
		}
	})

	t.Run("delete returns chunk ids", func(t *testing.T) {
		ids, err := st.Delete(ctx, "doc1")
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if len(ids) != 1 || ids[0] != "doc1:0" {
			t.Errorf("Delete returned %v", ids)
		}
		if err := idx.Remove(ctx, ids); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := st.GetDocument(ctx, "doc1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("document survived delete: %v", err)
		}
		if _, err := st.Delete(ctx, "doc1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second Delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("qa history", func(t *testing.T) {
		rec := store.QARecord{
			ID:        "f0f9f7e6-0000-4000-8000-000000000001",
			Question:  "what is up",
			Answer:    "the sky",
			Citations: []string{"doc1:0"},
			Model:     "test-model",
			CreatedAt: time.Now(),
		}
		if err := st.RecordQA(ctx, rec); err != nil {
			t.Fatalf("RecordQA: %v", err)
		}
		recs, err := st.ListQA(ctx, 5)
		if err != nil {
			t.Fatalf("ListQA: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("got %d records", len(recs))
		}
		got := recs[0]
		if got.Question != rec.Question || got.Answer != rec.Answer || got.Model != rec.Model {
			t.Errorf("record = %+v", got)
		}
		if len(got.Citations) != 1 || got.Citations[0] != "doc1:0" {
			t.Errorf("citations = %v", got.Citations)
		}
	})
}
