// Package inference turns classifier logits into an emotion prediction.
package inference

import (
	"context"
	"fmt"
	"math"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/emotion"
	"emotion-detector/pkg/errors"
)

// Classifier produces raw logits for one waveform, in label order.
type Classifier interface {
	Logits(ctx context.Context, samples []float32) ([]float64, error)
}

// Prediction is the outcome for a single clip.
type Prediction struct {
	Label         emotion.Label          `json:"label"`
	Confidence    float64                `json:"confidence"`
	Probabilities [emotion.Count]float64 `json:"-"`
}

// Score pairs a label with its probability.
type Score struct {
	Label       emotion.Label `json:"label"`
	Probability float64       `json:"probability"`
}

// Scores returns the probability of every label in label order.
func (p Prediction) Scores() []Score {
	scores := make([]Score, emotion.Count)
	for i := range scores {
		scores[i] = Score{Label: emotion.Label(i), Probability: p.Probabilities[i]}
	}
	return scores
}

// Probability returns the probability of one label.
func (p Prediction) Probability(l emotion.Label) float64 {
	if !l.Valid() {
		return 0
	}
	return p.Probabilities[l]
}

// Predict runs the classifier on one waveform, a batch of size 1.
func Predict(ctx context.Context, c Classifier, w audio.Waveform) (Prediction, error) {
	logits, err := c.Logits(ctx, w.Samples)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Prediction{}, errors.NewCanceled("inference interrupted", ctxErr)
		}
		return Prediction{}, errors.NewInferenceError("model call failed", err)
	}
	return FromLogits(logits)
}

// FromLogits applies softmax and picks the most probable label. Ties go to
// the lowest index.
func FromLogits(logits []float64) (Prediction, error) {
	if len(logits) != emotion.Count {
		return Prediction{}, errors.NewInferenceError(
			fmt.Sprintf("model returned %d logits, expected %d", len(logits), emotion.Count), nil)
	}

	probs, err := Softmax(logits)
	if err != nil {
		return Prediction{}, errors.NewInferenceError("invalid model output", err)
	}

	var p Prediction
	copy(p.Probabilities[:], probs)

	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	p.Label = emotion.Label(best)
	p.Confidence = probs[best]
	return p, nil
}

// Softmax converts logits into probabilities, subtracting the maximum first
// so large logits do not overflow.
func Softmax(logits []float64) ([]float64, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("no logits")
	}

	maxLogit := math.Inf(-1)
	for i, v := range logits {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("logit %d is not finite: %v", i, v)
		}
		if v > maxLogit {
			maxLogit = v
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}
