package audio

import "math"

// LevelConfig tunes the energy-based voice activity estimate.
type LevelConfig struct {
	// FrameSize is the analysis frame length in samples
	FrameSize int

	// Threshold is the minimum mean-square energy of a voiced frame
	Threshold float64

	// HoldFrames keeps a frame voiced after the energy drops
	HoldFrames int
}

// DefaultLevelConfig uses 20 ms frames at 16 kHz.
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		FrameSize:  320,
		Threshold:  1e-4,
		HoldFrames: 5,
	}
}

// MinDBFS is reported for digital silence so levels stay JSON-encodable.
const MinDBFS = -120.0

// Levels summarizes the loudness of a waveform.
type Levels struct {
	PeakDBFS    float64 `json:"peak_dbfs"`
	RMSDBFS     float64 `json:"rms_dbfs"`
	VoicedRatio float64 `json:"voiced_ratio"`
}

// Silent reports whether no frame was classified as voiced.
func (l Levels) Silent() bool { return l.VoicedRatio == 0 }

// MeasureLevels computes peak and RMS level plus the fraction of voiced
// frames. The noise floor adapts only during unvoiced frames.
func MeasureLevels(samples []float32, cfg LevelConfig) Levels {
	if cfg.FrameSize <= 0 {
		cfg = DefaultLevelConfig()
	}
	if len(samples) == 0 {
		return Levels{PeakDBFS: MinDBFS, RMSDBFS: MinDBFS}
	}

	var peak, total float64
	for _, s := range samples {
		v := float64(s)
		total += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	var (
		frames, voiced int
		hold           int
		noiseFloor     = 1e-5
	)
	for start := 0; start < len(samples); start += cfg.FrameSize {
		end := min(start+cfg.FrameSize, len(samples))
		energy := frameEnergy(samples[start:end])
		frames++

		if energy > math.Max(cfg.Threshold, noiseFloor*2) {
			voiced++
			hold = cfg.HoldFrames
			continue
		}
		if hold > 0 {
			hold--
			voiced++
			continue
		}
		noiseFloor = 0.99*noiseFloor + 0.01*energy
	}

	return Levels{
		PeakDBFS:    dbfs(peak),
		RMSDBFS:     dbfs(math.Sqrt(total / float64(len(samples)))),
		VoicedRatio: float64(voiced) / float64(frames),
	}
}

func frameEnergy(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(frame))
}

func dbfs(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDBFS
	}
	return math.Max(MinDBFS, 20*math.Log10(amplitude))
}
