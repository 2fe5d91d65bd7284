// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/echonote/echonote/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
// Zero value returns a unit vector of Dims length (default 4) for every
// input. Set EmbedErr to inject failures. All methods are safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when set, handles every Embed call.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedVector is returned by Embed when EmbedFunc is nil and EmbedErr is
	// nil. When nil, a deterministic unit vector is returned instead.
	EmbedVector []float32

	// EmbedErr, if non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// Dims is the reported dimensionality. Defaults to 4 when zero.
	Dims int

	// Model is returned by ModelID. Defaults to "mock-embed".
	Model string

	// EmbedCalls records every text passed to Embed, in order.
	EmbedCalls []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	fn := p.EmbedFunc
	vec, err := p.EmbedVector, p.EmbedErr
	dims := p.dims()
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if vec != nil {
		return vec, nil
	}
	out := make([]float32, dims)
	out[0] = 1
	return out, nil
}

// EmbedBatch implements embeddings.Provider by calling Embed per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Model == "" {
		return "mock-embed"
	}
	return p.Model
}

func (p *Provider) dims() int {
	if p.Dims <= 0 {
		return 4
	}
	return p.Dims
}
