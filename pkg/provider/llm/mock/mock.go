// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify prompt construction and to feed
// controlled responses without a live LM backend. Set the Func fields for
// per-call behaviour (error sequencing, concurrency probes); otherwise the
// static Response/Err pairs are returned.
//
// Example:
//
//	p := &mock.Provider{GenerateResponse: `{"summary": "…"}`}
//	out, err := p.Generate(ctx, prompt, llm.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/echonote/echonote/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Prompt string
	Opts   llm.Options
}

// SummarizeCall records a single invocation of Summarize.
type SummarizeCall struct {
	Text string
	Opts llm.Options
}

// ClassifyCall records a single invocation of Classify.
type ClassifyCall struct {
	Text       string
	Categories []string
	Opts       llm.Options
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return empty strings and
// nil errors. All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// GenerateFunc, when set, handles every Generate call. The static
	// GenerateResponse/GenerateErr pair is ignored.
	GenerateFunc func(ctx context.Context, prompt string, opts llm.Options) (string, error)

	// GenerateResponse is returned by Generate when GenerateFunc is nil.
	GenerateResponse string

	// GenerateErr, if non-nil, is returned by Generate when GenerateFunc is nil.
	GenerateErr error

	SummarizeFunc     func(ctx context.Context, text string, opts llm.Options) (string, error)
	SummarizeResponse string
	SummarizeErr      error

	ClassifyFunc     func(ctx context.Context, text string, categories []string, opts llm.Options) (string, error)
	ClassifyResponse string
	ClassifyErr      error

	// Model is returned by ModelID. Defaults to "mock-model" when empty.
	Model string

	// --- Call records (read after test) ---

	GenerateCalls  []GenerateCall
	SummarizeCalls []SummarizeCall
	ClassifyCalls  []ClassifyCall
}

var _ llm.Provider = (*Provider)(nil)

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Prompt: prompt, Opts: opts})
	fn := p.GenerateFunc
	resp, err := p.GenerateResponse, p.GenerateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, opts)
	}
	return resp, err
}

// Summarize implements llm.Provider.
func (p *Provider) Summarize(ctx context.Context, text string, opts llm.Options) (string, error) {
	p.mu.Lock()
	p.SummarizeCalls = append(p.SummarizeCalls, SummarizeCall{Text: text, Opts: opts})
	fn := p.SummarizeFunc
	resp, err := p.SummarizeResponse, p.SummarizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, opts)
	}
	return resp, err
}

// Classify implements llm.Provider.
func (p *Provider) Classify(ctx context.Context, text string, categories []string, opts llm.Options) (string, error) {
	p.mu.Lock()
	p.ClassifyCalls = append(p.ClassifyCalls, ClassifyCall{Text: text, Categories: categories, Opts: opts})
	fn := p.ClassifyFunc
	resp, err := p.ClassifyResponse, p.ClassifyErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, categories, opts)
	}
	return resp, err
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Model == "" {
		return "mock-model"
	}
	return p.Model
}

// CallCount returns the total number of LM calls across all operations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls) + len(p.SummarizeCalls) + len(p.ClassifyCalls)
}
