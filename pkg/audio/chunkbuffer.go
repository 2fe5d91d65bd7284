package audio

import "time"

// Default chunking parameters. 16 kHz mono s16le is the conventional echonote
// capture format; 5-second chunks with a 500 ms overlap keep whisper latency
// low while avoiding word splits at chunk boundaries.
const (
	DefaultChunkDuration   = 5 * time.Second
	DefaultOverlapDuration = 500 * time.Millisecond
	DefaultSampleRate      = 16000
	DefaultSampleWidth     = 2
	DefaultChannels        = 1

	// minTailDuration is the shortest tail DrainTail will emit. Fragments
	// below half a second carry too little speech to transcribe reliably.
	minTailDuration = 500 * time.Millisecond
)

// ChunkConfig describes the PCM format and chunking geometry of a
// [ChunkBuffer]. Zero fields are replaced by the package defaults.
type ChunkConfig struct {
	// ChunkDuration is the fixed duration of each emitted chunk.
	ChunkDuration time.Duration

	// SampleRate is the sample rate in Hz.
	SampleRate int

	// SampleWidth is the bytes per sample (2 for int16 PCM).
	SampleWidth int

	// Channels is the number of interleaved channels.
	Channels int

	// OverlapDuration is how much trailing audio of one chunk is repeated at
	// the head of the next. Must be smaller than ChunkDuration.
	OverlapDuration time.Duration
}

func (c ChunkConfig) withDefaults() ChunkConfig {
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SampleWidth <= 0 {
		c.SampleWidth = DefaultSampleWidth
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.OverlapDuration < 0 || c.OverlapDuration >= c.ChunkDuration {
		c.OverlapDuration = DefaultOverlapDuration
	}
	return c
}

// frameSize returns the bytes per sample frame (all channels of one instant).
func (c ChunkConfig) frameSize() int { return c.SampleWidth * c.Channels }

// bytesFor returns the byte count covering d at this format, truncated to a
// whole frame.
func (c ChunkConfig) bytesFor(d time.Duration) int {
	n := int(int64(c.SampleRate) * int64(d) / int64(time.Second))
	return n * c.frameSize()
}

// ChunkBuffer accumulates raw PCM bytes and emits fixed-duration sample
// chunks that overlap by a configurable window, so consecutive chunks share a
// suffix/prefix and words spanning a boundary appear whole in at least one
// chunk.
//
// ChunkBuffer is not safe for concurrent use; create one per stream.
type ChunkBuffer struct {
	cfg ChunkConfig
	buf []byte
}

// NewChunkBuffer creates a ChunkBuffer with the given configuration, applying
// package defaults for zero fields.
func NewChunkBuffer(cfg ChunkConfig) *ChunkBuffer {
	return &ChunkBuffer{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaulting.
func (b *ChunkBuffer) Config() ChunkConfig { return b.cfg }

// Append adds raw PCM bytes to the buffer. Append never fails; malformed
// lengths surface later when samples are converted.
func (b *ChunkBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Buffered returns the number of bytes currently held.
func (b *ChunkBuffer) Buffered() int { return len(b.buf) }

// HasFullChunk reports whether the buffer holds at least one full chunk.
func (b *ChunkBuffer) HasFullChunk() bool {
	return len(b.buf) >= b.cfg.bytesFor(b.cfg.ChunkDuration)
}

// TakeChunk removes one chunk's worth of audio from the head of the buffer
// and returns it as normalised float32 samples.
//
// The returned samples cover the full chunk duration, including the trailing
// overlap window, but only chunkBytes−overlapBytes are consumed from the
// buffer: the overlap remains and becomes the head of the next chunk.
//
// Returns (nil, false) when no full chunk is available.
func (b *ChunkBuffer) TakeChunk() ([]float32, bool) {
	chunkBytes := b.cfg.bytesFor(b.cfg.ChunkDuration)
	if len(b.buf) < chunkBytes {
		return nil, false
	}
	overlapBytes := b.cfg.bytesFor(b.cfg.OverlapDuration)

	samples, err := BytesToSamples(b.buf[:chunkBytes])
	if err != nil {
		// chunkBytes is frame-aligned by construction; unreachable unless the
		// config was mutated after creation.
		return nil, false
	}

	advance := chunkBytes - overlapBytes
	remaining := make([]byte, len(b.buf)-advance)
	copy(remaining, b.buf[advance:])
	b.buf = remaining

	return samples, true
}

// DrainTail returns whatever audio remains, truncated to a whole frame, and
// empties the buffer. Tails shorter than half a second are discarded: they
// are too short for speech-to-text to produce anything useful.
//
// Returns (nil, false) when nothing usable remains.
func (b *ChunkBuffer) DrainTail() ([]float32, bool) {
	minBytes := b.cfg.bytesFor(minTailDuration)
	usable := len(b.buf) - len(b.buf)%b.cfg.frameSize()
	if usable < minBytes || usable == 0 {
		b.buf = nil
		return nil, false
	}
	samples, err := BytesToSamples(b.buf[:usable])
	b.buf = nil
	if err != nil {
		return nil, false
	}
	return samples, true
}

// Reset discards all buffered audio.
func (b *ChunkBuffer) Reset() {
	b.buf = nil
}
