package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Decoder turns an encoded upload into mono samples at TargetSampleRate.
type Decoder interface {
	Decode(ctx context.Context, data []byte, format Format) ([]float32, error)
}

// ChainDecoder reads WAV natively and hands everything else to ffmpeg.
type ChainDecoder struct {
	wav    Decoder
	ffmpeg Decoder
	logger *logrus.Logger
}

// NewChainDecoder builds a decoder chain. ffmpeg may be nil, in which case
// only PCM and float WAV uploads can be decoded.
func NewChainDecoder(wav, ffmpeg Decoder, logger *logrus.Logger) *ChainDecoder {
	return &ChainDecoder{wav: wav, ffmpeg: ffmpeg, logger: logger}
}

// Decode implements Decoder
func (c *ChainDecoder) Decode(ctx context.Context, data []byte, format Format) ([]float32, error) {
	if format == FormatWAV && c.wav != nil {
		samples, err := c.wav.Decode(ctx, data, format)
		if err == nil {
			return samples, nil
		}
		if c.ffmpeg == nil || ctx.Err() != nil {
			return nil, err
		}
		c.logger.WithError(err).Debug("Native WAV decoding failed, retrying with ffmpeg")
	}

	if c.ffmpeg == nil {
		return nil, fmt.Errorf("%w: no decoder available for %s", errNoDecoder, format)
	}
	return c.ffmpeg.Decode(ctx, data, format)
}

var errNoDecoder = errors.New("ffmpeg is not configured")
