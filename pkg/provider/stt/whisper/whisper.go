// Package whisper implements stt.Provider with the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers must be available
// at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once and shared; each transcription creates its own
// whisper context, so concurrent calls do not interfere.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/echonote/echonote/pkg/audio"
	"github.com/echonote/echonote/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using a locally loaded whisper.cpp model.
type Provider struct {
	model            whisperlib.Model
	language         string
	silenceThreshold float64
	chunkCfg         audio.ChunkConfig
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the transcription language code (e.g. "en", "ko").
// Defaults to "auto".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold overrides the RMS energy below which streamed chunks
// are skipped. Defaults to stt.DefaultSilenceThreshold.
func WithSilenceThreshold(threshold float64) Option {
	return func(p *Provider) { p.silenceThreshold = threshold }
}

// WithChunkConfig sets the streaming chunk geometry. Defaults to the
// audio package defaults (5 s chunks, 500 ms overlap, 16 kHz mono).
func WithChunkConfig(cfg audio.ChunkConfig) Option {
	return func(p *Provider) { p.chunkCfg = cfg }
}

// New loads the whisper.cpp model at modelPath. The caller must Close the
// provider when done.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{
		model:            model,
		language:         "auto",
		silenceThreshold: stt.DefaultSilenceThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider for a persisted WAV file.
func (p *Provider) Transcribe(ctx context.Context, path string) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	samples, sampleRate, channels, err := audio.ReadWAV(path)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	if channels > 1 {
		samples = downmix(samples, channels)
	}

	segments, err := p.infer(samples)
	if err != nil {
		return stt.Result{}, err
	}

	var sb strings.Builder
	for i, seg := range segments {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(seg.Text)
	}
	duration := time.Duration(int64(len(samples)) * int64(time.Second) / int64(max(sampleRate, 1)))
	return stt.Result{
		Text:       sb.String(),
		Language:   p.language,
		Confidence: 1,
		Duration:   duration,
		Segments:   segments,
	}, nil
}

// TranscribeStream implements stt.Provider. Audio from r is chunked through
// an overlapping buffer; chunks whose RMS energy falls below the silence
// threshold are skipped without inference.
func (p *Provider) TranscribeStream(ctx context.Context, r io.Reader) (<-chan stt.StreamResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	out := make(chan stt.StreamResult, 8)
	go func() {
		defer close(out)

		buf := audio.NewChunkBuffer(p.chunkCfg)
		read := make([]byte, 32*1024)

		emit := func(samples []float32, isFinal bool) bool {
			if audio.RMS(samples) < p.silenceThreshold {
				slog.Debug("whisper: skipping silent chunk", "samples", len(samples))
				return true
			}
			segments, err := p.infer(samples)
			if err != nil {
				// A failed inference is fatal for the stream.
				sendResult(ctx, out, stt.StreamResult{Err: err})
				return false
			}
			var sb strings.Builder
			for i, seg := range segments {
				if i > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(seg.Text)
			}
			if sb.Len() == 0 {
				return true
			}
			return sendResult(ctx, out, stt.StreamResult{
				Text:       sb.String(),
				IsFinal:    isFinal,
				Confidence: 1,
				Segments:   segments,
			})
		}

		for {
			if ctx.Err() != nil {
				return
			}
			n, err := r.Read(read)
			if n > 0 {
				buf.Append(read[:n])
				for {
					samples, ok := buf.TakeChunk()
					if !ok {
						break
					}
					if !emit(samples, false) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					sendResult(ctx, out, stt.StreamResult{Err: fmt.Errorf("whisper: read stream: %w", err)})
					return
				}
				if tail, ok := buf.DrainTail(); ok {
					emit(tail, true)
				}
				return
			}
		}
	}()
	return out, nil
}

// infer runs whisper.cpp on the samples and materialises all segments before
// returning, so no generator state crosses goroutines.
func (p *Provider) infer(samples []float32) ([]stt.Segment, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []stt.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, stt.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return segments, nil
}

func sendResult(ctx context.Context, out chan<- stt.StreamResult, res stt.StreamResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// downmix averages interleaved channels into mono.
func downmix(samples []float32, channels int) []float32 {
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
