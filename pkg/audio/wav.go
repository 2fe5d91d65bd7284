package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV persists raw little-endian int16 PCM to path as a WAV file,
// preserving the given sample rate and channel count. The parent directory
// must already exist.
func WriteWAV(path string, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("audio: write wav: pcm length %d is not a whole number of int16 samples", len(pcm))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: write wav: create %q: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)

	ints := make([]int, len(pcm)/2)
	for i := range ints {
		ints[i] = int(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		Data:           ints,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("audio: write wav: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("audio: write wav: finalise: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: write wav: close %q: %w", path, err)
	}
	return nil
}

// ReadWAV loads a WAV file and returns its samples normalised to [-1, 1]
// together with the decoded sample rate and channel count.
func ReadWAV(path string) (samples []float32, sampleRate, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: read wav: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: read wav: decode %q: %w", path, err)
	}
	if buf.Format == nil {
		return nil, 0, 0, fmt.Errorf("audio: read wav: %q has no format chunk", path)
	}

	samples = make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / 32768.0
	}
	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}
