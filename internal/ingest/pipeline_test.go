package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/log"
	"github.com/corvid-labs/ragd/internal/store"
	"github.com/corvid-labs/ragd/internal/testutil"
)

const testDim = 16

func newTestPipeline(t *testing.T) (*Pipeline, *store.MemoryStore, *index.MemoryIndex) {
	t.Helper()
	st := store.NewMemory()
	emb := testutil.NewHashEmbedder(testDim)
	idx := index.NewMemory(testDim, emb.ModelVersion())
	p := New(st, idx, emb, Options{ChunkSize: 50, ChunkOverlap: 0, BatchSize: 2}, log.NewNop())
	return p, st, idx
}

func TestIngestCreatesChunksAndVectors(t *testing.T) {
	p, st, idx := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.Ingest(ctx, Request{
		ID:   "doc1",
		Text: "Alpha beta gamma delta. Epsilon zeta eta theta. Iota kappa lambda mu. Nu xi omicron pi.",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.DocumentID != "doc1" {
		t.Errorf("DocumentID = %q, want doc1", result.DocumentID)
	}
	if result.Replaced {
		t.Error("Replaced = true for a new document")
	}
	if result.Chunks < 2 {
		t.Fatalf("Chunks = %d, want at least 2", result.Chunks)
	}

	ids, err := st.ChunkIDs(ctx, "doc1")
	if err != nil {
		t.Fatalf("ChunkIDs: %v", err)
	}
	if len(ids) != result.Chunks {
		t.Errorf("store has %d chunks, result reports %d", len(ids), result.Chunks)
	}
	for i, id := range ids {
		if want := store.ChunkID("doc1", i); id != want {
			t.Errorf("chunk ID %d = %q, want %q", i, id, want)
		}
	}

	// Every stored chunk has a vector and every vector has a chunk.
	matches, err := idx.Query(ctx, queryVector(t, "alpha beta gamma"), result.Chunks+5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != result.Chunks {
		t.Errorf("index holds %d vectors, want %d", len(matches), result.Chunks)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	for _, m := range matches {
		if !known[m.ChunkID] {
			t.Errorf("index entry %q has no stored chunk", m.ChunkID)
		}
	}
}

func queryVector(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := testutil.NewHashEmbedder(testDim).Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embedding query: %v", err)
	}
	return vec
}

func TestIngestIdempotentReplacement(t *testing.T) {
	p, st, idx := newTestPipeline(t)
	ctx := context.Background()

	long := "First sentence of the text. Second sentence of text. Third sentence right here. Fourth one to finish."
	first, err := p.Ingest(ctx, Request{ID: "doc", Text: long})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second, err := p.Ingest(ctx, Request{ID: "doc", Text: "Only one short line."})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !second.Replaced {
		t.Error("Replaced = false on re-ingestion")
	}
	if second.Chunks >= first.Chunks {
		t.Fatalf("expected shorter re-ingestion (%d chunks) to produce fewer than %d",
			second.Chunks, first.Chunks)
	}

	ids, err := st.ChunkIDs(ctx, "doc")
	if err != nil {
		t.Fatalf("ChunkIDs: %v", err)
	}
	if len(ids) != second.Chunks {
		t.Errorf("store has %d chunks after replacement, want %d", len(ids), second.Chunks)
	}

	// Vectors for the dropped ordinals are gone too.
	matches, err := idx.Query(ctx, queryVector(t, "sentence"), first.Chunks+5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != second.Chunks {
		t.Errorf("index holds %d vectors after replacement, want %d", len(matches), second.Chunks)
	}
}

// failingIndex wraps an Index and fails batch inserts on demand.
type failingIndex struct {
	index.Index
	failInsert bool
}

func (f *failingIndex) InsertBatch(ctx context.Context, entries []index.Entry) error {
	if f.failInsert {
		return errors.New("index write refused")
	}
	return f.Index.InsertBatch(ctx, entries)
}

func TestIngestRollsBackOnIndexFailure(t *testing.T) {
	st := store.NewMemory()
	emb := testutil.NewHashEmbedder(testDim)
	inner := index.NewMemory(testDim, emb.ModelVersion())
	fidx := &failingIndex{Index: inner, failInsert: true}
	p := New(st, fidx, emb, Options{ChunkSize: 50, BatchSize: 4}, log.NewNop())
	ctx := context.Background()

	_, err := p.Ingest(ctx, Request{ID: "doc", Text: "Some content that should not persist."})
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("err = %v, want ErrIngestionFailed", err)
	}

	if ids, _ := st.ChunkIDs(ctx, "doc"); len(ids) != 0 {
		t.Errorf("store kept %d chunks after failed ingestion", len(ids))
	}
	if _, err := st.GetDocument(ctx, "doc"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("document row survived failed ingestion: %v", err)
	}
	matches, err := inner.Query(ctx, queryVector(t, "content"), 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("index kept %d vectors after failed ingestion", len(matches))
	}
}

func TestIngestRollbackKeepsPreviousVersion(t *testing.T) {
	st := store.NewMemory()
	emb := testutil.NewHashEmbedder(testDim)
	inner := index.NewMemory(testDim, emb.ModelVersion())
	fidx := &failingIndex{Index: inner}
	p := New(st, fidx, emb, Options{ChunkSize: 50, BatchSize: 4}, log.NewNop())
	ctx := context.Background()

	if _, err := p.Ingest(ctx, Request{ID: "doc", Text: "Original content stays put."}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	fidx.failInsert = true
	_, err := p.Ingest(ctx, Request{ID: "doc", Text: "Replacement that must not land."})
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("err = %v, want ErrIngestionFailed", err)
	}

	chunk, err := st.GetChunk(ctx, store.ChunkID("doc", 0))
	if err != nil {
		t.Fatalf("GetChunk after failed replacement: %v", err)
	}
	if !strings.Contains(chunk.Text, "Original content") {
		t.Errorf("chunk text = %q, want the original version", chunk.Text)
	}
}

func TestIngestFailedReplacementRestoresDocument(t *testing.T) {
	st := store.NewMemory()
	emb := testutil.NewHashEmbedder(testDim)
	inner := index.NewMemory(testDim, emb.ModelVersion())
	fidx := &failingIndex{Index: inner}
	p := New(st, fidx, emb, Options{ChunkSize: 50, BatchSize: 4}, log.NewNop())
	ctx := context.Background()

	_, err := p.Ingest(ctx, Request{
		ID: "doc", Text: "Version one text.", Metadata: map[string]string{"rev": "1"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	fidx.failInsert = true
	_, err = p.Ingest(ctx, Request{
		ID: "doc", Text: "Version two text.", Metadata: map[string]string{"rev": "2"},
	})
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("err = %v, want ErrIngestionFailed", err)
	}

	// The document record and its chunks both show the first version;
	// neither half of the failed re-ingest is visible.
	doc, err := st.GetDocument(ctx, "doc")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Metadata["rev"] != "1" {
		t.Errorf(`metadata rev = %q after failed re-ingest, want "1"`, doc.Metadata["rev"])
	}
	chunk, err := st.GetChunk(ctx, store.ChunkID("doc", 0))
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if !strings.Contains(chunk.Text, "Version one") {
		t.Errorf("chunk text = %q, want the first version", chunk.Text)
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.Ingest(context.Background(), Request{ID: "doc", Text: "   \n\t "})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestIngestNoSource(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.Ingest(context.Background(), Request{ID: "doc"})
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}
}

func TestIngestGeneratesDocumentID(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	result, err := p.Ingest(context.Background(), Request{Text: "Some text without an ID."})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.DocumentID == "" {
		t.Error("DocumentID is empty")
	}
}

func TestIngestFromLocalFile(t *testing.T) {
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("Content loaded from a file on disk."), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := p.Ingest(ctx, Request{ID: "file-doc", SourceURI: path})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	chunk, err := st.GetChunk(ctx, store.ChunkID(result.DocumentID, 0))
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if !strings.Contains(chunk.Text, "loaded from a file") {
		t.Errorf("chunk text = %q", chunk.Text)
	}
	doc, err := st.GetDocument(ctx, "file-doc")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.SourceURI != path {
		t.Errorf("SourceURI = %q, want %q", doc.SourceURI, path)
	}
}

func TestRemoveDeletesChunksAndVectors(t *testing.T) {
	p, st, idx := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.Ingest(ctx, Request{ID: "doc", Text: "Short lived document. It will be removed soon."})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := p.Remove(ctx, "doc"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := st.GetDocument(ctx, "doc"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetDocument after Remove: %v, want ErrNotFound", err)
	}
	matches, err := idx.Query(ctx, queryVector(t, "document"), result.Chunks+5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("index kept %d vectors after Remove", len(matches))
	}
}

func TestRemoveUnknownDocument(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	err := p.Remove(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
