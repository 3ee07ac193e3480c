package search

import (
	"context"
	"errors"
	"testing"

	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/ingest"
	"github.com/corvid-labs/ragd/internal/log"
	"github.com/corvid-labs/ragd/internal/store"
	"github.com/corvid-labs/ragd/internal/testutil"
)

const testDim = 32

type fixture struct {
	store    *store.MemoryStore
	index    *index.MemoryIndex
	embedder *testutil.HashEmbedder
	pipeline *ingest.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	emb := testutil.NewHashEmbedder(testDim)
	idx := index.NewMemory(testDim, emb.ModelVersion())
	p := ingest.New(st, idx, emb, ingest.Options{ChunkSize: 200, BatchSize: 4}, log.NewNop())
	return &fixture{store: st, index: idx, embedder: emb, pipeline: p}
}

func (f *fixture) ingest(t *testing.T, id, text string, meta map[string]string) {
	t.Helper()
	if _, err := f.pipeline.Ingest(context.Background(), ingest.Request{
		ID: id, Text: text, Metadata: meta,
	}); err != nil {
		t.Fatalf("ingesting %s: %v", id, err)
	}
}

func (f *fixture) service(mode FilterMode, topK int) *Service {
	return New(f.store, f.index, f.embedder, topK, mode, log.NewNop())
}

func TestSearchRanksMatchingDocumentFirst(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "cooking", "Simmer the tomato sauce with basil and oregano garlic.", nil)
	f.ingest(t, "sailing", "Trim the mainsail and watch the jib in strong wind.", nil)

	svc := f.service(FilterPost, 5)
	results, err := svc.Search(context.Background(), "tomato sauce with basil")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].DocumentID != "cooking" {
		t.Errorf("top result from %q, want cooking", results[0].DocumentID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not descending: %v", results)
		}
	}
	if results[0].Text == "" {
		t.Error("result missing chunk text")
	}
}

func TestSearchRespectsTopK(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "a", "Alpha text one.", nil)
	f.ingest(t, "b", "Beta text two.", nil)
	f.ingest(t, "c", "Gamma text three.", nil)

	svc := f.service(FilterPost, 5)
	results, err := svc.Search(context.Background(), "text", WithTopK(2))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t)
	svc := f.service(FilterPost, 5)
	for _, q := range []string{"", "   "} {
		if _, err := svc.Search(context.Background(), q); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Search(%q) err = %v, want ErrEmptyQuery", q, err)
		}
	}
}

func TestSearchInvalidTopK(t *testing.T) {
	f := newFixture(t)
	svc := f.service(FilterPost, 5)
	_, err := svc.Search(context.Background(), "anything", WithTopK(-1))
	if !errors.Is(err, index.ErrInvalidTopK) {
		t.Errorf("err = %v, want ErrInvalidTopK", err)
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	f := newFixture(t)
	svc := f.service(FilterPost, 5)
	results, err := svc.Search(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty corpus", len(results))
	}
}

func TestSearchVersionMismatch(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc", "Some indexed content.", nil)

	f.embedder.Version = "test-embedder-v2"
	svc := f.service(FilterPost, 5)
	_, err := svc.Search(context.Background(), "content")
	if !errors.Is(err, index.ErrVersionMismatch) {
		t.Errorf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestSearchDropsOrphanedIndexEntries(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc", "Real content that stays consistent.", nil)

	// Plant an index entry with no backing chunk.
	vec, err := f.embedder.Embed(context.Background(), "Real content that stays consistent.")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.index.Insert(context.Background(), index.Entry{ChunkID: "ghost:0", Vector: vec}); err != nil {
		t.Fatal(err)
	}

	svc := f.service(FilterPost, 10)
	results, err := svc.Search(context.Background(), "real content")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "ghost:0" {
			t.Error("orphaned index entry surfaced in results")
		}
	}
	if len(results) == 0 {
		t.Error("valid results were dropped alongside the orphan")
	}
}

func TestSearchMetadataFilterPost(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "en-doc", "Shared vocabulary content here.", map[string]string{"lang": "en"})
	f.ingest(t, "de-doc", "Shared vocabulary content here.", map[string]string{"lang": "de"})

	svc := f.service(FilterPost, 10)
	results, err := svc.Search(context.Background(), "shared vocabulary",
		WithFilter(map[string]string{"lang": "de"}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("filter removed everything")
	}
	for _, r := range results {
		if r.DocumentID != "de-doc" {
			t.Errorf("result from %q leaked through lang=de filter", r.DocumentID)
		}
	}
}

func TestSearchMetadataFilterPreOverfetches(t *testing.T) {
	f := newFixture(t)
	// Many near-identical unfiltered docs crowd out the one match under
	// post-filtering with k=1; pre-filtering must still find it.
	for _, id := range []string{"n1", "n2", "n3"} {
		f.ingest(t, id, "Common phrasing about shared things.", map[string]string{"keep": "no"})
	}
	f.ingest(t, "target", "Common phrasing about shared things.", map[string]string{"keep": "yes"})

	svc := f.service(FilterPre, 10)
	results, err := svc.Search(context.Background(), "common phrasing shared",
		WithTopK(1), WithFilter(map[string]string{"keep": "yes"}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "target" {
		t.Errorf("pre-filter results = %v, want the target document", results)
	}
}

func TestSearchFilterNoMatches(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "doc", "Some content.", map[string]string{"lang": "en"})

	svc := f.service(FilterPost, 5)
	results, err := svc.Search(context.Background(), "content",
		WithFilter(map[string]string{"lang": "fr"}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}
