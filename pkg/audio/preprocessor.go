package audio

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/errors"
)

// Preprocessor produces bounded waveforms from uploaded files.
type Preprocessor struct {
	decoder Decoder
	logger  *logrus.Logger
}

// NewPreprocessor creates a preprocessor around a decoder
func NewPreprocessor(decoder Decoder, logger *logrus.Logger) *Preprocessor {
	return &Preprocessor{decoder: decoder, logger: logger}
}

// Process detects the container, decodes the upload and applies the length policy.
// Every failure caused by the upload itself is an InvalidAudio error.
func (p *Preprocessor) Process(ctx context.Context, data []byte, filename string) (Waveform, error) {
	if len(data) == 0 {
		return Waveform{}, errors.NewInvalidAudio("empty audio file", nil)
	}

	format := DetectFormat(data, filename)
	if format == FormatUnknown {
		return Waveform{}, errors.NewInvalidAudio("unsupported audio format (use "+formatList()+")", nil,
			map[string]interface{}{"file_name": filename})
	}

	samples, err := p.decoder.Decode(ctx, data, format)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Waveform{}, errors.NewCanceled("audio decoding interrupted", ctxErr)
		}
		p.logger.WithFields(logrus.Fields{
			"file_name": filename,
			"format":    format,
			"bytes":     len(data),
		}).WithError(err).Warn("Failed to decode upload")
		return Waveform{}, errors.NewInvalidAudio("could not decode audio file", err,
			map[string]interface{}{"format": string(format)})
	}

	wave, err := Enforce(samples)
	if err != nil {
		return Waveform{}, err
	}

	if wave.Truncated() {
		p.logger.WithFields(logrus.Fields{
			"file_name": filename,
			"samples":   wave.OriginalLength,
			"kept":      wave.Len(),
		}).Info("Audio longer than 20 seconds, keeping the first 20 seconds")
	}
	return wave, nil
}

func formatList() string {
	names := make([]string, 0, len(SupportedFormats()))
	for _, f := range SupportedFormats() {
		names = append(names, strings.ToUpper(string(f)))
	}
	return strings.Join(names, ", ")
}
