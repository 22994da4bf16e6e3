// Package audio turns uploaded audio files into bounded 16 kHz mono waveforms.
package audio

import (
	"time"

	"emotion-detector/pkg/errors"
)

const (
	// TargetSampleRate is the only rate the classifier accepts.
	TargetSampleRate = 16000

	// MinSamples is the shortest accepted clip (0.1 s).
	MinSamples = TargetSampleRate / 10

	// MaxSamples bounds the clip to 20 s; longer clips keep only their prefix.
	MaxSamples = 20 * TargetSampleRate
)

// Waveform is a mono signal at TargetSampleRate.
type Waveform struct {
	Samples    []float32
	SampleRate int

	// OriginalLength is the decoded length before truncation.
	OriginalLength int
}

// Len returns the number of samples.
func (w Waveform) Len() int { return len(w.Samples) }

// Duration is sample count divided by sample rate.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Seconds returns the duration in seconds.
func (w Waveform) Seconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Truncated reports whether samples were dropped to respect MaxSamples.
func (w Waveform) Truncated() bool {
	return w.OriginalLength > len(w.Samples)
}

// Enforce applies the length policy to a decoded 16 kHz mono signal.
// Clips in [MinSamples, MaxSamples] are returned unmodified; longer clips are
// cut to their first MaxSamples samples.
func Enforce(samples []float32) (Waveform, error) {
	n := len(samples)
	switch {
	case n == 0:
		return Waveform{}, errors.NewInvalidAudio("empty audio file", nil,
			map[string]interface{}{"samples": 0})
	case n < MinSamples:
		return Waveform{}, errors.NewInvalidAudio("audio too short (minimum 0.1 seconds)", nil,
			map[string]interface{}{"samples": n, "min_samples": MinSamples})
	case n > MaxSamples:
		samples = samples[:MaxSamples:MaxSamples]
	}

	return Waveform{
		Samples:        samples,
		SampleRate:     TargetSampleRate,
		OriginalLength: n,
	}, nil
}
