// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider transcribes either a persisted audio file or a live PCM byte
// stream. The streaming operation is stateful only within the call: a
// compliant implementation internally drives an audio.ChunkBuffer, skips
// silent chunks by RMS energy, and emits one result per speech chunk.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"io"
	"time"
)

// DefaultSilenceThreshold is the RMS energy (on the normalised [-1, 1]
// sample scale) below which a chunk is treated as silence and skipped.
const DefaultSilenceThreshold = 0.01

// Segment is a time-aligned piece of a transcription result.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Result is the transcription of a complete audio file.
type Result struct {
	Text       string
	Language   string
	Confidence float64
	Duration   time.Duration
	Segments   []Segment
}

// StreamResult is one transcription increment from a live stream. IsFinal
// marks a chunk whose timing will not be revised by later audio. Err is
// non-nil only on the terminal result of a fatally failed stream.
type StreamResult struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Segments   []Segment
	Err        error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe transcribes the audio file at path in one shot.
	Transcribe(ctx context.Context, path string) (Result, error)

	// TranscribeStream consumes raw little-endian int16 PCM from r and emits
	// transcription results as speech chunks complete. The returned channel
	// is closed when r is exhausted, ctx is cancelled, or a fatal provider
	// error occurs; a fatal error is delivered as the last StreamResult with
	// Err set.
	TranscribeStream(ctx context.Context, r io.Reader) (<-chan StreamResult, error)
}
