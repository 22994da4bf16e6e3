package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resampleOffsets caches the measured output offset per source rate.
var resampleOffsets sync.Map

// Resample converts a mono signal from the given rate to TargetSampleRate.
// The output holds round(n*16000/rate) samples aligned with the input: a
// feature at input time t appears at output time t.
func Resample(samples []float32, fromRate int) ([]float32, error) {
	if fromRate == TargetSampleRate || len(samples) == 0 {
		return samples, nil
	}
	if fromRate <= 0 {
		return nil, fmt.Errorf("invalid source sample rate: %d", fromRate)
	}

	offset, err := resampleOffset(fromRate)
	if err != nil {
		return nil, err
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}
	output, err := resamplePadded(input, fromRate)
	if err != nil {
		return nil, err
	}

	want := int(math.Round(float64(len(samples)) * float64(TargetSampleRate) / float64(fromRate)))
	result := make([]float32, want)
	for i := range result {
		if j := offset + i; j < len(output) {
			result[i] = float32(output[j])
		}
	}
	return result, nil
}

// resamplePadded runs one resampler over the input surrounded by silence.
// The resampler convolves without priming its history, so its output leads
// the input by the filter delay; the leading pad absorbs that lead and the
// trailing pad pushes the last input samples through every stage.
func resamplePadded(input []float64, fromRate int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(TargetSampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	pad := resamplePad(fromRate)
	padded := make([]float64, pad+len(input)+pad)
	copy(padded[pad:], input)

	output, err := r.Process(padded)
	if err != nil {
		return nil, fmt.Errorf("resample %d Hz: %w", fromRate, err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler: %w", err)
	}
	return append(output, tail...), nil
}

// resamplePad is the smallest whole number of rate-ratio periods covering
// 100 ms, so the pad maps to a whole number of output samples.
func resamplePad(fromRate int) int {
	period := fromRate / gcd(fromRate, TargetSampleRate)
	minimum := fromRate / 10
	return period * ((minimum + period - 1) / period)
}

// resampleOffset measures where input sample 0 lands in the padded output by
// locating the response to an impulse.
func resampleOffset(fromRate int) (int, error) {
	if v, ok := resampleOffsets.Load(fromRate); ok {
		return v.(int), nil
	}

	at := resamplePad(fromRate)
	impulse := make([]float64, 2*at)
	impulse[at] = 1

	output, err := resamplePadded(impulse, fromRate)
	if err != nil {
		return 0, err
	}

	peak := 0
	for i, v := range output {
		if math.Abs(v) > math.Abs(output[peak]) {
			peak = i
		}
	}

	offset := peak - at*TargetSampleRate/fromRate
	if offset < 0 || output[peak] == 0 {
		return 0, fmt.Errorf("resample %d Hz: cannot locate filter delay", fromRate)
	}

	resampleOffsets.Store(fromRate, offset)
	return offset, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
