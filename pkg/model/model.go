package model

import (
	"context"
	"fmt"
)

// Info summarizes a loaded model for status pages.
type Info struct {
	Dir            string `json:"dir"`
	ModelType      string `json:"model_type"`
	Architecture   string `json:"architecture,omitempty"`
	WeightsBytes   int64  `json:"weights_bytes"`
	Parameters     int64  `json:"parameters"`
	HiddenSize     int    `json:"hidden_size"`
	ProjectionSize int    `json:"projection_size"`
	Labels         int    `json:"labels"`
	SampleRate     int    `json:"sample_rate"`
	Format         string `json:"format"`
}

// Model is the immutable classifier shared by all requests.
type Model struct {
	encoder Encoder
	head    *Head
	info    Info
}

// NewModel assembles a model from an encoder and a classification head.
func NewModel(encoder Encoder, head *Head, info Info) *Model {
	return &Model{encoder: encoder, head: head, info: info}
}

// Logits runs the encoder and the head on one waveform.
func (m *Model) Logits(ctx context.Context, samples []float32) ([]float64, error) {
	frames, err := m.encoder.Encode(ctx, samples)
	if err != nil {
		return nil, err
	}
	logits, err := m.head.Forward(frames.Data, frames.Steps, frames.Hidden)
	if err != nil {
		return nil, fmt.Errorf("classification head: %w", err)
	}
	return logits, nil
}

// Info returns descriptive metadata.
func (m *Model) Info() Info { return m.info }

// Close releases the encoder.
func (m *Model) Close() error {
	if m.encoder == nil {
		return nil
	}
	return m.encoder.Close()
}
