package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// FFmpegConfig holds the ffmpeg decoder settings
type FFmpegConfig struct {
	// Path is the ffmpeg executable name or path
	Path string

	// TempDir receives uploads for containers that cannot be read from a pipe
	TempDir string
}

// DefaultFFmpegConfig returns the default ffmpeg configuration
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		Path:    "ffmpeg",
		TempDir: os.TempDir(),
	}
}

// FFmpegDecoder decodes any ffmpeg-readable upload to 16 kHz mono float samples.
type FFmpegDecoder struct {
	config FFmpegConfig
	logger *logrus.Logger
}

// NewFFmpegDecoder creates a decoder that shells out to ffmpeg
func NewFFmpegDecoder(config FFmpegConfig, logger *logrus.Logger) *FFmpegDecoder {
	if config.Path == "" {
		config.Path = "ffmpeg"
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &FFmpegDecoder{config: config, logger: logger}
}

// Available checks if ffmpeg can be executed
func (d *FFmpegDecoder) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, d.config.Path, "-version").Run() == nil
}

// Path returns the configured executable.
func (d *FFmpegDecoder) Path() string { return d.config.Path }

// Decode runs ffmpeg with the upload on stdin. MP4-family containers keep their
// index at the end of the file, so they are spooled to a temporary file that is
// removed before Decode returns.
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, format Format) ([]float32, error) {
	if format == FormatM4A {
		return d.decodeFromTempFile(ctx, data, format)
	}
	return d.run(ctx, "pipe:0", bytes.NewReader(data), format)
}

func (d *FFmpegDecoder) decodeFromTempFile(ctx context.Context, data []byte, format Format) ([]float32, error) {
	tmp, err := os.CreateTemp(d.config.TempDir, "emotion-upload-*."+string(format))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			d.logger.WithError(rmErr).WithField("path", path).Warn("Failed to remove temporary audio file")
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	return d.run(ctx, path, nil, format)
}

func (d *FFmpegDecoder) run(ctx context.Context, input string, stdin *bytes.Reader, format Format) ([]float32, error) {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if stdin == nil {
		args = append(args, "-nostdin")
	}
	args = append(args,
		"-i", input,
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, d.config.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.logger.WithFields(logrus.Fields{
			"error":  err,
			"output": strings.TrimSpace(stderr.String()),
			"format": format,
		}).Debug("FFmpeg decoding failed")
		return nil, fmt.Errorf("ffmpeg decoding failed: %w", err)
	}

	samples := decodeFloat32LE(stdout.Bytes())

	d.logger.WithFields(logrus.Fields{
		"format":  format,
		"samples": len(samples),
	}).Debug("Audio decoding completed")

	return samples, nil
}

// decodeFloat32LE converts raw f32le bytes, ignoring a trailing partial sample.
func decodeFloat32LE(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples
}
