// Package audio provides PCM buffering and conversion primitives for the
// echonote recording pipeline: the overlapping [ChunkBuffer] that feeds the
// speech-to-text layer, little-endian int16 ↔ float32 sample conversion, RMS
// energy measurement for silence detection, and WAV persistence.
//
// All audio in echonote is signed 16-bit little-endian PCM. The conventional
// format is 16 kHz mono, but every function takes the format as a parameter.
package audio

import (
	"fmt"
	"math"
)

// BytesToSamples interprets pcm as little-endian signed 16-bit samples and
// normalises them to float32 values in [-1, 1] by dividing by 2^15.
//
// Returns an error if len(pcm) is not a multiple of 2 (a torn sample).
func BytesToSamples(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm length %d is not a whole number of int16 samples", len(pcm))
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// SamplesToBytes converts normalised float32 samples back to little-endian
// signed 16-bit PCM, clamping to the int16 range.
func SamplesToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		n := int16(v)
		out[i*2] = byte(n)
		out[i*2+1] = byte(n >> 8)
	}
	return out
}

// RMS returns the root-mean-square energy of the samples on the normalised
// [-1, 1] scale. An empty slice has zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
