package audio

import (
	"math"
	"testing"
)

func TestBytesToSamples(t *testing.T) {
	t.Run("converts little-endian int16 to normalised float32", func(t *testing.T) {
		// 0, 32767 (max), -32768 (min)
		pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
		samples, err := BytesToSamples(pcm)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(samples) != 3 {
			t.Fatalf("expected 3 samples, got %d", len(samples))
		}
		if samples[0] != 0 {
			t.Errorf("sample 0: expected 0, got %v", samples[0])
		}
		if got := samples[1]; math.Abs(float64(got)-32767.0/32768.0) > 1e-6 {
			t.Errorf("sample 1: expected ~0.99997, got %v", got)
		}
		if samples[2] != -1 {
			t.Errorf("sample 2: expected -1, got %v", samples[2])
		}
	})

	t.Run("rejects torn samples", func(t *testing.T) {
		if _, err := BytesToSamples([]byte{0x01}); err == nil {
			t.Fatal("expected error for odd byte count, got nil")
		}
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		samples, err := BytesToSamples(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(samples) != 0 {
			t.Errorf("expected no samples, got %d", len(samples))
		}
	})
}

func TestSamplesToBytesRoundTrip(t *testing.T) {
	pcm := []byte{0x34, 0x12, 0xCD, 0xAB, 0x00, 0x80, 0xFF, 0x7F}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := SamplesToBytes(samples)
	if len(got) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(got))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Errorf("byte %d: expected %#x, got %#x", i, pcm[i], got[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Run("empty slice has zero energy", func(t *testing.T) {
		if got := RMS(nil); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("constant amplitude", func(t *testing.T) {
		samples := make([]float32, 100)
		for i := range samples {
			samples[i] = 0.5
		}
		if got := RMS(samples); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("expected 0.5, got %v", got)
		}
	})

	t.Run("silence is below the default threshold", func(t *testing.T) {
		samples := make([]float32, 1600)
		for i := range samples {
			samples[i] = 0.001
		}
		if got := RMS(samples); got >= 0.01 {
			t.Errorf("expected energy below 0.01, got %v", got)
		}
	})
}
