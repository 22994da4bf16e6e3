package detector

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/emotion"
	"emotion-detector/pkg/errors"
	"emotion-detector/pkg/inference"
	"emotion-detector/pkg/model"
)

type stubPreprocessor struct {
	samples int
	err     error
	calls   int
}

func (s *stubPreprocessor) Process(_ context.Context, _ []byte, _ string) (audio.Waveform, error) {
	s.calls++
	if s.err != nil {
		return audio.Waveform{}, s.err
	}
	return audio.Enforce(make([]float32, s.samples))
}

type stubClassifier struct {
	logits []float64
	err    error
	calls  int
}

func (s *stubClassifier) Logits(_ context.Context, _ []float32) ([]float64, error) {
	s.calls++
	return s.logits, s.err
}

type failingProvider struct{ err error }

func (p failingProvider) Classifier() (inference.Classifier, error) { return nil, p.err }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestAnalyzeReport(t *testing.T) {
	pre := &stubPreprocessor{samples: 400000}
	cls := &stubClassifier{logits: []float64{0, 0, 0, 0, 0, 0, 4, 0}}
	d := New(pre, StaticProvider{C: cls}, quietLogger())

	report, err := d.Analyze(context.Background(), Upload{Name: "long.wav", Data: make([]byte, 2048), RequestID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, emotion.Sad, report.Prediction.Label)
	assert.Equal(t, "req-1", report.RequestID)
	assert.Equal(t, "long.wav", report.FileName)
	assert.Equal(t, 2048, report.FileBytes)
	assert.Equal(t, audio.MaxSamples, report.SampleCount)
	assert.Equal(t, 16000, report.SampleRate)
	assert.InDelta(t, 20.0, report.Duration, 1e-9)
	assert.True(t, report.Truncated)
	assert.True(t, report.Levels.Silent())
	assert.Equal(t, audio.MinDBFS, report.Levels.PeakDBFS)
}

func TestAnalyzeModelUnavailable(t *testing.T) {
	pre := &stubPreprocessor{samples: 16000}
	loadErr := errors.NewModelLoadError("model directory is incomplete", stderrors.New("missing model files: model.safetensors"))
	d := New(pre, failingProvider{err: loadErr}, quietLogger())

	report, err := d.Analyze(context.Background(), Upload{Name: "a.wav", Data: []byte("RIFF")})
	assert.Nil(t, report)
	assert.True(t, stderrors.Is(err, errors.ErrModelLoad))
	assert.Zero(t, pre.calls, "no preprocessing without a model")
}

func TestAnalyzeFromFailedLoader(t *testing.T) {
	loader := model.NewLoader(model.LoaderConfig{Dir: t.TempDir()}, quietLogger())
	_, loadErr := loader.Load(context.Background())
	require.Error(t, loadErr)

	pre := &stubPreprocessor{samples: 16000}
	d := New(pre, FromLoader(loader), quietLogger())

	_, err := d.Analyze(context.Background(), Upload{Name: "a.wav", Data: []byte("RIFF")})
	assert.True(t, stderrors.Is(err, errors.ErrModelLoad))
	assert.Zero(t, pre.calls)
}

func TestAnalyzeInvalidAudioSkipsInference(t *testing.T) {
	pre := &stubPreprocessor{samples: 800}
	cls := &stubClassifier{logits: make([]float64, 8)}
	d := New(pre, StaticProvider{C: cls}, quietLogger())

	report, err := d.Analyze(context.Background(), Upload{Name: "short.wav", Data: []byte("RIFF")})
	assert.Nil(t, report)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidAudio))
	assert.Contains(t, err.Error(), "minimum 0.1 seconds")
	assert.Zero(t, cls.calls)
}

func TestAnalyzeInferenceFailure(t *testing.T) {
	cls := &stubClassifier{err: stderrors.New("session run failed")}
	d := New(&stubPreprocessor{samples: 16000}, StaticProvider{C: cls}, quietLogger())

	report, err := d.Analyze(context.Background(), Upload{Name: "a.wav", Data: []byte("RIFF")})
	assert.Nil(t, report)
	assert.True(t, stderrors.Is(err, errors.ErrInference))
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "invalid_audio", FailureKind(errors.NewInvalidAudio("x", nil)))
	assert.Equal(t, "model_load", FailureKind(errors.NewModelLoadError("x", nil)))
	assert.Equal(t, "inference", FailureKind(errors.NewInferenceError("x", nil)))
	assert.Equal(t, "unavailable", FailureKind(errors.NewUnavailable("x")))
	assert.Equal(t, "canceled", FailureKind(errors.NewCanceled("x", context.Canceled)))
	assert.Equal(t, "timeout", FailureKind(errors.NewCanceled("x", context.DeadlineExceeded)))
	assert.Equal(t, "inference", FailureKind(fmt.Errorf("stage: %w", errors.Wrap(errors.NewInferenceError("x", nil), "y"))))
	assert.Equal(t, "internal", FailureKind(stderrors.New("x")))
}
