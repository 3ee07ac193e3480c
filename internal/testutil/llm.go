package testutil

import (
	"context"
	"sync"
)

// CompleteCall records one generator invocation.
type CompleteCall struct {
	System string
	Prompt string
}

// ScriptedGenerator is a test double for the completion model.
// Responses come from Func when set, otherwise from the fixed Response;
// Err short-circuits both. All calls are recorded.
type ScriptedGenerator struct {
	Response string
	Func     func(system, prompt string) (string, error)
	Err      error

	mu    sync.Mutex
	calls []CompleteCall
}

func (g *ScriptedGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, CompleteCall{System: system, Prompt: prompt})
	g.mu.Unlock()

	if g.Err != nil {
		return "", g.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Func != nil {
		return g.Func(system, prompt)
	}
	return g.Response, nil
}

// Calls returns a copy of the recorded invocations.
func (g *ScriptedGenerator) Calls() []CompleteCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CompleteCall, len(g.calls))
	copy(out, g.calls)
	return out
}
