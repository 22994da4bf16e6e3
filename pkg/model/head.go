package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"emotion-detector/pkg/emotion"
)

// Tensor names of the sequence classification head
const (
	projectorWeight  = "projector.weight"
	projectorBias    = "projector.bias"
	classifierWeight = "classifier.weight"
	classifierBias   = "classifier.bias"
)

// Head maps encoder frames to class logits: mean pooling over time, a linear
// projector, then a linear classifier. Both layers are affine, so pooling
// before the projector gives the same result as pooling after it.
type Head struct {
	projW *mat.Dense // proj x hidden
	projB *mat.VecDense
	clsW  *mat.Dense // labels x proj
	clsB  *mat.VecDense
}

// NewHead builds a head from row-major weights.
func NewHead(projW []float32, projB []float32, clsW []float32, clsB []float32, hidden int) (*Head, error) {
	if hidden <= 0 {
		return nil, fmt.Errorf("hidden size must be positive")
	}
	proj := len(projB)
	if proj == 0 || len(projW) != proj*hidden {
		return nil, fmt.Errorf("projector weight has %d values, expected %d x %d", len(projW), proj, hidden)
	}
	labels := len(clsB)
	if labels != emotion.Count {
		return nil, fmt.Errorf("classifier has %d outputs, expected %d", labels, emotion.Count)
	}
	if len(clsW) != labels*proj {
		return nil, fmt.Errorf("classifier weight has %d values, expected %d x %d", len(clsW), labels, proj)
	}

	return &Head{
		projW: mat.NewDense(proj, hidden, widen(projW)),
		projB: mat.NewVecDense(proj, widen(projB)),
		clsW:  mat.NewDense(labels, proj, widen(clsW)),
		clsB:  mat.NewVecDense(labels, widen(clsB)),
	}, nil
}

// LoadHead reads the head tensors from a safetensors file.
func LoadHead(st *SafeTensors, cfg *Config) (*Head, error) {
	tensors := make(map[string][]float32, 4)
	for _, name := range []string{projectorWeight, projectorBias, classifierWeight, classifierBias} {
		data, shape, err := st.Float32s(name)
		if err != nil {
			return nil, err
		}
		if err := checkHeadShape(name, shape, cfg); err != nil {
			return nil, err
		}
		tensors[name] = data
	}
	return NewHead(tensors[projectorWeight], tensors[projectorBias],
		tensors[classifierWeight], tensors[classifierBias], cfg.HiddenSize)
}

func checkHeadShape(name string, shape []int64, cfg *Config) error {
	var want []int64
	switch name {
	case projectorWeight:
		want = []int64{int64(cfg.ClassifierProjSize), int64(cfg.HiddenSize)}
	case projectorBias:
		want = []int64{int64(cfg.ClassifierProjSize)}
	case classifierWeight:
		want = []int64{int64(emotion.Count), int64(cfg.ClassifierProjSize)}
	case classifierBias:
		want = []int64{int64(emotion.Count)}
	}
	if len(shape) != len(want) {
		return fmt.Errorf("tensor %s has shape %v, expected %v", name, shape, want)
	}
	for i := range want {
		if shape[i] != want[i] {
			return fmt.Errorf("tensor %s has shape %v, expected %v", name, shape, want)
		}
	}
	return nil
}

// Hidden returns the encoder width the head expects.
func (h *Head) Hidden() int {
	_, c := h.projW.Dims()
	return c
}

// Projection returns the projector width.
func (h *Head) Projection() int {
	r, _ := h.projW.Dims()
	return r
}

// Forward computes logits from steps x hidden row-major encoder frames.
func (h *Head) Forward(frames []float32, steps, hidden int) ([]float64, error) {
	if hidden != h.Hidden() {
		return nil, fmt.Errorf("encoder width %d does not match head width %d", hidden, h.Hidden())
	}
	if steps <= 0 || len(frames) != steps*hidden {
		return nil, fmt.Errorf("encoder returned %d values for %d frames of width %d", len(frames), steps, hidden)
	}

	pooled := make([]float64, hidden)
	for t := 0; t < steps; t++ {
		row := frames[t*hidden : (t+1)*hidden]
		for i, v := range row {
			pooled[i] += float64(v)
		}
	}
	for i := range pooled {
		pooled[i] /= float64(steps)
	}

	var projected mat.VecDense
	projected.MulVec(h.projW, mat.NewVecDense(hidden, pooled))
	projected.AddVec(&projected, h.projB)

	var logits mat.VecDense
	logits.MulVec(h.clsW, &projected)
	logits.AddVec(&logits, h.clsB)

	return mat.Col(nil, 0, &logits), nil
}

func widen(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
