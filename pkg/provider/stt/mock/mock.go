// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/echonote/echonote/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider. Scripted results are
// played back in order; zero value transcribes everything to empty results.
// All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// TranscribeResult is returned by every Transcribe call.
	TranscribeResult stt.Result

	// TranscribeErr, if non-nil, is returned by Transcribe.
	TranscribeErr error

	// StreamResults is the sequence emitted by TranscribeStream before the
	// channel closes.
	StreamResults []stt.StreamResult

	// StreamErr, if non-nil, is returned by TranscribeStream instead of
	// starting a stream.
	StreamErr error

	// TranscribeCalls records the paths passed to Transcribe.
	TranscribeCalls []string

	// StreamInputs records the full bytes read from each stream.
	StreamInputs [][]byte
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, path string) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, path)
	return p.TranscribeResult, p.TranscribeErr
}

// TranscribeStream implements stt.Provider. The reader is drained fully and
// recorded, then the scripted results are emitted.
func (p *Provider) TranscribeStream(ctx context.Context, r io.Reader) (<-chan stt.StreamResult, error) {
	p.mu.Lock()
	streamErr := p.StreamErr
	results := make([]stt.StreamResult, len(p.StreamResults))
	copy(results, p.StreamResults)
	p.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	out := make(chan stt.StreamResult, len(results))
	go func() {
		defer close(out)
		data, _ := io.ReadAll(r)
		p.mu.Lock()
		p.StreamInputs = append(p.StreamInputs, data)
		p.mu.Unlock()
		for _, res := range results {
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
