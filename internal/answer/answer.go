// Package answer synthesizes grounded answers from retrieved context.
//
// The synthesizer retrieves the most relevant chunks for a question,
// assembles a prompt that confines the model to that context, and tags
// each context block with its chunk ID so the model can cite sources.
// Citations are parsed back out of the model output and validated against
// the chunks actually provided, so a hallucinated ID never becomes a
// citation.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/ragd/internal/model"
	"github.com/corvid-labs/ragd/internal/search"
	"github.com/corvid-labs/ragd/internal/store"
)

// Sentinel errors for answer synthesis.
var (
	// ErrNoContext indicates retrieval found nothing relevant and the
	// fail-fast policy is active.
	ErrNoContext = errors.New("answer: no relevant context found")

	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("answer: question must not be empty")
)

// NoContextPolicy decides what happens when retrieval comes back empty.
type NoContextPolicy string

const (
	// PolicyFail returns ErrNoContext (default).
	PolicyFail NoContextPolicy = "fail"

	// PolicyAnswer asks the model anyway and labels the answer ungrounded.
	PolicyAnswer NoContextPolicy = "answer"
)

const systemPrompt = `You are a helpful assistant that answers questions based only on the provided context.
Each context passage is prefixed with its identifier in square brackets, like [doc:0].
When you use a passage, cite it by repeating its identifier in your answer.
If the answer cannot be found in the context, say "I don't have enough information to answer this question." and nothing else.
Do not use any knowledge outside the provided context.`

const ungroundedSystemPrompt = `You are a helpful assistant. No supporting documents were found for this question, so answer from general knowledge and begin your answer with "No supporting documents were found."`

// citationPattern matches bracketed chunk identifiers in model output.
var citationPattern = regexp.MustCompile(`\[([^\[\]\s]+:\d+)\]`)

// Answer is the result of one ask.
type Answer struct {
	Text      string          `json:"text"`
	Citations []string        `json:"citations,omitempty"` // chunk IDs, prompt order
	Grounded  bool            `json:"grounded"`
	Model     string          `json:"model"`
	Context   []search.Result `json:"context,omitempty"` // chunks shown to the model
}

// Option configures a single Ask call.
type Option func(*askConfig)

type askConfig struct {
	topK   int
	filter map[string]string
}

// WithTopK overrides how many chunks are retrieved as context.
func WithTopK(k int) Option {
	return func(c *askConfig) { c.topK = k }
}

// WithFilter restricts retrieval to documents matching the metadata pairs.
func WithFilter(filter map[string]string) Option {
	return func(c *askConfig) { c.filter = filter }
}

// Synthesizer answers questions over the ingested corpus.
// Safe for concurrent use.
type Synthesizer struct {
	searcher    *search.Service
	generator   model.Generator
	store       store.Store
	modelName   string
	defaultTopK int
	policy      NoContextPolicy
	logger      *slog.Logger
}

// New creates a Synthesizer.
func New(searcher *search.Service, gen model.Generator, st store.Store, modelName string, defaultTopK int, policy NoContextPolicy, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	if policy != PolicyAnswer {
		policy = PolicyFail
	}
	return &Synthesizer{
		searcher:    searcher,
		generator:   gen,
		store:       st,
		modelName:   modelName,
		defaultTopK: defaultTopK,
		policy:      policy,
		logger:      logger,
	}
}

// Ask retrieves context for the question and synthesizes an answer.
// Under PolicyFail an empty retrieval returns ErrNoContext; under
// PolicyAnswer the model answers ungrounded and Answer.Grounded is false.
func (s *Synthesizer) Ask(ctx context.Context, question string, opts ...Option) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	cfg := askConfig{topK: s.defaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()

	searchOpts := []search.Option{search.WithTopK(cfg.topK)}
	if len(cfg.filter) > 0 {
		searchOpts = append(searchOpts, search.WithFilter(cfg.filter))
	}
	results, err := s.searcher.Search(ctx, question, searchOpts...)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	if len(results) == 0 {
		if s.policy == PolicyFail {
			return nil, ErrNoContext
		}
		return s.askUngrounded(ctx, question, start)
	}

	text, err := s.generator.Complete(ctx, systemPrompt, buildPrompt(question, results))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	citations := extractCitations(text, results)
	if citations == nil && !citationPattern.MatchString(text) {
		// The model emitted no citation tags at all; attribute the whole
		// retrieved context rather than returning a grounded answer with
		// no sources.
		for _, r := range results {
			citations = append(citations, r.ChunkID)
		}
	}

	ans := &Answer{
		Text:      text,
		Citations: citations,
		Grounded:  true,
		Model:     s.modelName,
		Context:   results,
	}
	s.record(ctx, question, ans)

	s.logger.Info("answered question",
		"context_chunks", len(results),
		"citations", len(ans.Citations),
		"grounded", true,
		"elapsed", time.Since(start),
	)
	return ans, nil
}

func (s *Synthesizer) askUngrounded(ctx context.Context, question string, start time.Time) (*Answer, error) {
	text, err := s.generator.Complete(ctx, ungroundedSystemPrompt, question)
	if err != nil {
		return nil, fmt.Errorf("generating ungrounded answer: %w", err)
	}

	ans := &Answer{Text: text, Grounded: false, Model: s.modelName}
	s.record(ctx, question, ans)

	s.logger.Info("answered question without context",
		"grounded", false,
		"elapsed", time.Since(start),
	)
	return ans, nil
}

// record appends the Q&A to history. History is best-effort; a storage
// hiccup must not fail an already-synthesized answer.
func (s *Synthesizer) record(ctx context.Context, question string, ans *Answer) {
	err := s.store.RecordQA(ctx, store.QARecord{
		ID:        uuid.NewString(),
		Question:  question,
		Answer:    ans.Text,
		Citations: ans.Citations,
		Model:     ans.Model,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to record QA history", "error", err)
	}
}

// buildPrompt assembles the context blocks and the question.
func buildPrompt(question string, results []search.Result) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s\n\n", r.ChunkID, r.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// extractCitations returns the chunk IDs cited in the output, restricted
// to the chunks that were actually in the prompt, deduplicated, in prompt
// order.
func extractCitations(output string, results []search.Result) []string {
	cited := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(output, -1) {
		cited[m[1]] = true
	}

	var citations []string
	for _, r := range results {
		if cited[r.ChunkID] {
			citations = append(citations, r.ChunkID)
		}
	}
	return citations
}
