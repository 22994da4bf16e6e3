// Package detector runs the upload-to-prediction pipeline for one request.
package detector

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/errors"
	"emotion-detector/pkg/inference"
	"emotion-detector/pkg/metrics"
)

// ClassifierProvider hands out the shared classifier, or the reason it is unavailable.
type ClassifierProvider interface {
	Classifier() (inference.Classifier, error)
}

// Preprocessor converts an upload into a waveform.
type Preprocessor interface {
	Process(ctx context.Context, data []byte, filename string) (audio.Waveform, error)
}

// Upload is the file submitted by a user.
type Upload struct {
	Name      string
	Data      []byte
	RequestID string
}

// Report is everything shown for a successful analysis.
type Report struct {
	RequestID   string               `json:"request_id,omitempty"`
	FileName    string               `json:"file_name"`
	FileBytes   int                  `json:"file_bytes"`
	Prediction  inference.Prediction `json:"prediction"`
	Duration    float64              `json:"duration_seconds"`
	SampleRate  int                  `json:"sample_rate"`
	SampleCount int                  `json:"sample_count"`
	Truncated   bool                 `json:"truncated"`
	Levels      audio.Levels         `json:"levels"`
	Elapsed     time.Duration        `json:"-"`
}

// Detector wires the preprocessor to the shared classifier.
type Detector struct {
	preprocessor Preprocessor
	provider     ClassifierProvider
	logger       *logrus.Logger
}

// New creates a detector
func New(preprocessor Preprocessor, provider ClassifierProvider, logger *logrus.Logger) *Detector {
	return &Detector{preprocessor: preprocessor, provider: provider, logger: logger}
}

// Analyze runs preprocessing then inference. Either a complete report or an
// error is returned, never both.
func (d *Detector) Analyze(ctx context.Context, upload Upload) (*Report, error) {
	start := time.Now()
	logger := d.logger.WithFields(logrus.Fields{
		"request_id": upload.RequestID,
		"file_name":  upload.Name,
		"bytes":      len(upload.Data),
	})

	classifier, err := d.provider.Classifier()
	if err != nil {
		d.fail(logger, err)
		return nil, err
	}

	stop := metrics.ObserveStage("decode")
	wave, err := d.preprocessor.Process(ctx, upload.Data, upload.Name)
	stop()
	if err != nil {
		d.fail(logger, err)
		return nil, err
	}

	stop = metrics.ObserveStage("infer")
	prediction, err := inference.Predict(ctx, classifier, wave)
	stop()
	if err != nil {
		d.fail(logger, err)
		return nil, err
	}

	report := &Report{
		RequestID:   upload.RequestID,
		FileName:    upload.Name,
		FileBytes:   len(upload.Data),
		Prediction:  prediction,
		Duration:    wave.Seconds(),
		SampleRate:  wave.SampleRate,
		SampleCount: wave.Len(),
		Truncated:   wave.Truncated(),
		Levels:      audio.MeasureLevels(wave.Samples, audio.DefaultLevelConfig()),
		Elapsed:     time.Since(start),
	}

	metrics.RecordAudio(report.Duration, report.Truncated, report.FileBytes)
	metrics.RecordPrediction(prediction.Label.String(), prediction.Confidence)

	logger.WithFields(logrus.Fields{
		"label":      prediction.Label.String(),
		"confidence": prediction.Confidence,
		"samples":    report.SampleCount,
		"voiced":     report.Levels.VoicedRatio,
		"elapsed":    report.Elapsed.String(),
	}).Info("Emotion analysis completed")

	return report, nil
}

func (d *Detector) fail(logger *logrus.Entry, err error) {
	kind := FailureKind(err)
	metrics.RecordFailure(kind)

	entry := logger.WithFields(errors.GetErrorFields(err)).WithError(err).WithField("kind", kind)
	if kind == "invalid_audio" {
		entry.Info("Rejected audio upload")
		return
	}
	entry.Error("Emotion analysis failed")
}

// FailureKind names the error category for logs and metrics.
func FailureKind(err error) string {
	var serr *errors.Error
	if !stderrors.As(err, &serr) {
		return "internal"
	}
	switch serr.Kind() {
	case errors.ErrInvalidAudio:
		return "invalid_audio"
	case errors.ErrModelLoad:
		return "model_load"
	case errors.ErrUnavailable:
		return "unavailable"
	case errors.ErrInference:
		return "inference"
	case errors.ErrCanceled:
		return "canceled"
	case errors.ErrTimeout:
		return "timeout"
	default:
		return "internal"
	}
}
