package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/ingest"
	"github.com/corvid-labs/ragd/internal/log"
	"github.com/corvid-labs/ragd/internal/model"
	"github.com/corvid-labs/ragd/internal/search"
	"github.com/corvid-labs/ragd/internal/store"
	"github.com/corvid-labs/ragd/internal/testutil"
)

const testDim = 32

type fixture struct {
	store     *store.MemoryStore
	generator *testutil.ScriptedGenerator
	searcher  *search.Service
}

func newFixture(t *testing.T, docs map[string]string) *fixture {
	t.Helper()
	st := store.NewMemory()
	emb := testutil.NewHashEmbedder(testDim)
	idx := index.NewMemory(testDim, emb.ModelVersion())
	p := ingest.New(st, idx, emb, ingest.Options{ChunkSize: 200, BatchSize: 4}, log.NewNop())
	for id, text := range docs {
		if _, err := p.Ingest(context.Background(), ingest.Request{ID: id, Text: text}); err != nil {
			t.Fatalf("ingesting %s: %v", id, err)
		}
	}
	return &fixture{
		store:     st,
		generator: &testutil.ScriptedGenerator{},
		searcher:  search.New(st, idx, emb, 5, search.FilterPost, log.NewNop()),
	}
}

func (f *fixture) synthesizer(policy NoContextPolicy) *Synthesizer {
	return New(f.searcher, f.generator, f.store, "test-model", 3, policy, log.NewNop())
}

func TestAskGroundedWithCitations(t *testing.T) {
	f := newFixture(t, map[string]string{
		"sky": "The sky appears blue because of Rayleigh scattering.",
	})
	f.generator.Response = "The sky is blue due to Rayleigh scattering [sky:0]."

	ans, err := f.synthesizer(PolicyFail).Ask(context.Background(), "Why is the sky blue?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.Grounded {
		t.Error("Grounded = false for an answer with context")
	}
	if len(ans.Citations) != 1 || ans.Citations[0] != "sky:0" {
		t.Errorf("Citations = %v, want [sky:0]", ans.Citations)
	}
	if ans.Model != "test-model" {
		t.Errorf("Model = %q", ans.Model)
	}
	if len(ans.Context) == 0 {
		t.Error("Context is empty")
	}

	// The prompt contained the tagged chunk and the question.
	calls := f.generator.Calls()
	if len(calls) != 1 {
		t.Fatalf("generator called %d times", len(calls))
	}
	if !strings.Contains(calls[0].Prompt, "[sky:0]") {
		t.Errorf("prompt missing chunk tag:\n%s", calls[0].Prompt)
	}
	if !strings.Contains(calls[0].Prompt, "Why is the sky blue?") {
		t.Errorf("prompt missing question:\n%s", calls[0].Prompt)
	}
	if !strings.Contains(calls[0].System, "only on the provided context") {
		t.Errorf("system prompt not grounding:\n%s", calls[0].System)
	}
}

func TestAskFiltersHallucinatedCitations(t *testing.T) {
	f := newFixture(t, map[string]string{
		"sky": "The sky appears blue because of Rayleigh scattering.",
	})
	f.generator.Response = "Blue [sky:0], as also shown in [made-up:7]."

	ans, err := f.synthesizer(PolicyFail).Ask(context.Background(), "Why is the sky blue?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.Citations) != 1 || ans.Citations[0] != "sky:0" {
		t.Errorf("Citations = %v, want only [sky:0]", ans.Citations)
	}
}

func TestAskWithoutCitationTagsCitesAllContext(t *testing.T) {
	f := newFixture(t, map[string]string{
		"sky": "The sky appears blue because of Rayleigh scattering.",
	})
	f.generator.Response = "The sky is blue due to Rayleigh scattering."

	ans, err := f.synthesizer(PolicyFail).Ask(context.Background(), "Why is the sky blue?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.Citations) != len(ans.Context) {
		t.Fatalf("Citations = %v, want one per context chunk (%d)", ans.Citations, len(ans.Context))
	}
	for i, r := range ans.Context {
		if ans.Citations[i] != r.ChunkID {
			t.Errorf("citation %d = %q, want %q", i, ans.Citations[i], r.ChunkID)
		}
	}
}

func TestAskNoContextFailPolicy(t *testing.T) {
	f := newFixture(t, nil) // empty corpus
	_, err := f.synthesizer(PolicyFail).Ask(context.Background(), "Anything?")
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("err = %v, want ErrNoContext", err)
	}
	if calls := f.generator.Calls(); len(calls) != 0 {
		t.Errorf("generator called %d times under fail policy", len(calls))
	}
}

func TestAskNoContextAnswerPolicy(t *testing.T) {
	f := newFixture(t, nil)
	f.generator.Response = "No supporting documents were found. Generally speaking, yes."

	ans, err := f.synthesizer(PolicyAnswer).Ask(context.Background(), "Anything?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Grounded {
		t.Error("Grounded = true for an answer without context")
	}
	if len(ans.Citations) != 0 {
		t.Errorf("Citations = %v for ungrounded answer", ans.Citations)
	}
	calls := f.generator.Calls()
	if len(calls) != 1 {
		t.Fatalf("generator called %d times", len(calls))
	}
	if strings.Contains(calls[0].System, "only on the provided context") {
		t.Error("ungrounded call used the grounded system prompt")
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.synthesizer(PolicyFail).Ask(context.Background(), "  ")
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("err = %v, want ErrEmptyQuestion", err)
	}
}

func TestAskGeneratorFailurePropagates(t *testing.T) {
	f := newFixture(t, map[string]string{"doc": "Some context text."})
	f.generator.Err = model.ErrUnavailable

	_, err := f.synthesizer(PolicyFail).Ask(context.Background(), "question about context")
	if !errors.Is(err, model.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestAskRecordsHistory(t *testing.T) {
	f := newFixture(t, map[string]string{"doc": "Recorded context."})
	f.generator.Response = "An answer citing [doc:0]."

	if _, err := f.synthesizer(PolicyFail).Ask(context.Background(), "recorded context?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	recs, err := f.store.ListQA(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListQA: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("history has %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Question != "recorded context?" {
		t.Errorf("Question = %q", rec.Question)
	}
	if rec.Model != "test-model" {
		t.Errorf("Model = %q", rec.Model)
	}
	if len(rec.Citations) != 1 || rec.Citations[0] != "doc:0" {
		t.Errorf("Citations = %v", rec.Citations)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Error("record missing ID or timestamp")
	}
}

func TestExtractCitationsOrderAndDedup(t *testing.T) {
	results := []search.Result{
		{ChunkID: "a:0"}, {ChunkID: "a:1"}, {ChunkID: "b:0"},
	}
	out := "See [b:0] and [a:0], then [b:0] again; [ghost:9] is not real."
	got := extractCitations(out, results)
	want := []string{"a:0", "b:0"}
	if len(got) != len(want) {
		t.Fatalf("citations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("citation %d = %q, want %q", i, got[i], want[i])
		}
	}
}
