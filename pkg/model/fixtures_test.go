package model

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

type testTensor struct {
	name   string
	dtype  string
	shape  []int64
	values []float32
}

func encodeValues(dtype string, values []float32) []byte {
	var out []byte
	for _, v := range values {
		switch dtype {
		case "F32":
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		case "F16":
			out = binary.LittleEndian.AppendUint16(out, float16.Fromfloat32(v).Bits())
		case "BF16":
			out = binary.LittleEndian.AppendUint16(out, uint16(math.Float32bits(v)>>16))
		case "F64":
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(float64(v)))
		}
	}
	return out
}

func writeSafeTensors(t *testing.T, path string, tensors []testTensor) {
	t.Helper()

	header := map[string]interface{}{
		"__metadata__": map[string]string{"format": "pt"},
	}
	var data []byte
	for _, tt := range tensors {
		encoded := encodeValues(tt.dtype, tt.values)
		header[tt.name] = map[string]interface{}{
			"dtype":        tt.dtype,
			"shape":        tt.shape,
			"data_offsets": []int{len(data), len(data) + len(encoded)},
		}
		data = append(data, encoded...)
	}

	rawHeader, err := json.Marshal(header)
	require.NoError(t, err)

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(rawHeader)))
	out = append(out, rawHeader...)
	out = append(out, data...)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

// Head used by the fixtures: hidden 2, projection 2.
// projector = [[1 0] [0 2]] + [0 1]; classifier row i = [i -i], bias 0.
// For pooled input [a b] the logits are i*(a - 2b - 1).
func headTensors(dtype string) []testTensor {
	clsW := make([]float32, 0, 16)
	for i := 0; i < 8; i++ {
		clsW = append(clsW, float32(i), float32(-i))
	}
	return []testTensor{
		{projectorWeight, dtype, []int64{2, 2}, []float32{1, 0, 0, 2}},
		{projectorBias, dtype, []int64{2}, []float32{0, 1}},
		{classifierWeight, dtype, []int64{8, 2}, clsW},
		{classifierBias, dtype, []int64{8}, make([]float32, 8)},
	}
}

const testConfig = `{
  "architectures": ["Wav2Vec2ForSequenceClassification"],
  "model_type": "wav2vec2",
  "hidden_size": 2,
  "classifier_proj_size": 2,
  "use_weighted_layer_sum": false,
  "num_labels": 8,
  "id2label": {"0": "angry", "1": "calm", "2": "disgust", "3": "fearful",
               "4": "happy", "5": "neutral", "6": "sad", "7": "surprised"}
}`

const testPreprocessorConfig = `{
  "feature_extractor_type": "Wav2Vec2FeatureExtractor",
  "feature_size": 1,
  "sampling_rate": 16000,
  "do_normalize": true,
  "padding_value": 0.0
}`

// writeModelDir creates a complete artifact directory. Files named in skip are omitted.
func writeModelDir(t *testing.T, skip ...string) string {
	t.Helper()
	dir := t.TempDir()
	omit := make(map[string]bool)
	for _, s := range skip {
		omit[s] = true
	}

	if !omit[ConfigFile] {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(testConfig), 0o644))
	}
	if !omit[PreprocessorFile] {
		require.NoError(t, os.WriteFile(filepath.Join(dir, PreprocessorFile), []byte(testPreprocessorConfig), 0o644))
	}
	if !omit[WeightsFile] {
		writeSafeTensors(t, filepath.Join(dir, WeightsFile), headTensors("F32"))
	}
	if !omit[DefaultGraphFile] {
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultGraphFile), []byte("onnx"), 0o644))
	}
	return dir
}

// fakeEncoder emits one frame per 160 samples; each frame is [mean, mean].
type fakeEncoder struct {
	hidden int
	err    error
	closed bool
}

func (f *fakeEncoder) Encode(_ context.Context, samples []float32) (Frames, error) {
	if f.err != nil {
		return Frames{}, f.err
	}
	hidden := f.hidden
	if hidden == 0 {
		hidden = 2
	}
	steps := len(samples) / 160
	data := make([]float32, 0, steps*hidden)
	for s := 0; s < steps; s++ {
		var sum float32
		for _, v := range samples[s*160 : (s+1)*160] {
			sum += v
		}
		for h := 0; h < hidden; h++ {
			data = append(data, sum/160)
		}
	}
	return Frames{Data: data, Steps: steps, Hidden: hidden}, nil
}

func (f *fakeEncoder) Close() error {
	f.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}
