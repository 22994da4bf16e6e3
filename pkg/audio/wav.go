package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// WAVE format tags
const (
	wavFormatPCM        = 0x0001
	wavFormatIEEEFloat  = 0x0003
	wavFormatExtensible = 0xFFFE
)

// ErrUnsupportedEncoding marks WAV files the native decoder cannot read, such
// as compressed payloads. Callers may retry them with ffmpeg.
var ErrUnsupportedEncoding = errors.New("unsupported WAV encoding")

// WAVHeader describes the fmt chunk of a WAV file.
type WAVHeader struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// WAVDecoder decodes RIFF/WAVE data held in memory.
type WAVDecoder struct {
	logger *logrus.Logger
}

// NewWAVDecoder creates a native WAV decoder.
func NewWAVDecoder(logger *logrus.Logger) *WAVDecoder {
	return &WAVDecoder{logger: logger}
}

// Decode returns mono samples at TargetSampleRate.
func (d *WAVDecoder) Decode(ctx context.Context, data []byte, format Format) ([]float32, error) {
	if format != FormatWAV {
		return nil, fmt.Errorf("%w: %s is not WAV", ErrUnsupportedEncoding, format)
	}

	header, payload, err := ParseWAV(data)
	if err != nil {
		return nil, err
	}

	interleaved, err := decodePCM(header, payload)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mono := Downmix(interleaved, header.Channels)

	if header.SampleRate != TargetSampleRate {
		d.logger.WithFields(logrus.Fields{
			"from_rate": header.SampleRate,
			"to_rate":   TargetSampleRate,
			"samples":   len(mono),
		}).Debug("Resampling WAV audio")
		return Resample(mono, header.SampleRate)
	}
	return mono, nil
}

// ParseWAV walks the RIFF chunks and returns the fmt header and the data payload.
func ParseWAV(data []byte) (WAVHeader, []byte, error) {
	var header WAVHeader

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return header, nil, fmt.Errorf("missing RIFF/WAVE header")
	}

	var fmtFound bool
	var payload []byte
	dataFound := false

	pos := 12
	for pos+8 <= len(data) && !dataFound {
		chunkID := string(data[pos : pos+4])
		chunkSize := int64(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8

		end := int64(pos) + chunkSize
		if end > int64(len(data)) {
			// Streamed writers leave the size unset; take what is there
			end = int64(len(data))
		}
		body := data[pos:end]

		switch chunkID {
		case "fmt ":
			if len(body) < 16 {
				return header, nil, fmt.Errorf("fmt chunk too short: %d bytes", len(body))
			}
			header.AudioFormat = int(binary.LittleEndian.Uint16(body[0:2]))
			header.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			header.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			header.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if header.AudioFormat == wavFormatExtensible && len(body) >= 26 {
				// The first two bytes of the sub-format GUID carry the real tag
				header.AudioFormat = int(binary.LittleEndian.Uint16(body[24:26]))
			}
			fmtFound = true
		case "data":
			if !fmtFound {
				return header, nil, fmt.Errorf("data chunk before fmt chunk")
			}
			payload = body
			dataFound = true
		}

		pos = int(end)
		if chunkSize%2 == 1 {
			pos++ // chunks are word aligned
		}
	}

	if !fmtFound {
		return header, nil, fmt.Errorf("missing fmt chunk")
	}
	if !dataFound {
		return header, nil, fmt.Errorf("missing data chunk")
	}
	if header.Channels <= 0 {
		return header, nil, fmt.Errorf("invalid channel count: %d", header.Channels)
	}
	if header.SampleRate <= 0 {
		return header, nil, fmt.Errorf("invalid sample rate: %d", header.SampleRate)
	}
	return header, payload, nil
}

// decodePCM converts the payload to interleaved float32 samples in [-1, 1].
func decodePCM(h WAVHeader, payload []byte) ([]float32, error) {
	bytesPerSample := h.BitsPerSample / 8
	if bytesPerSample == 0 || h.BitsPerSample%8 != 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedEncoding, h.BitsPerSample)
	}

	frameSize := bytesPerSample * h.Channels
	count := (len(payload) / frameSize) * h.Channels
	out := make([]float32, count)

	switch {
	case h.AudioFormat == wavFormatPCM && h.BitsPerSample == 8:
		for i := 0; i < count; i++ {
			out[i] = float32(int(payload[i])-128) / 128
		}
	case h.AudioFormat == wavFormatPCM && h.BitsPerSample == 16:
		for i := 0; i < count; i++ {
			out[i] = float32(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / 32768
		}
	case h.AudioFormat == wavFormatPCM && h.BitsPerSample == 24:
		for i := 0; i < count; i++ {
			b := payload[i*3:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(v) / 8388608
		}
	case h.AudioFormat == wavFormatPCM && h.BitsPerSample == 32:
		for i := 0; i < count; i++ {
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(payload[i*4:]))) / 2147483648)
		}
	case h.AudioFormat == wavFormatIEEEFloat && h.BitsPerSample == 32:
		for i := 0; i < count; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
	case h.AudioFormat == wavFormatIEEEFloat && h.BitsPerSample == 64:
		for i := 0; i < count; i++ {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:])))
		}
	default:
		return nil, fmt.Errorf("%w: format tag 0x%04x with %d bits", ErrUnsupportedEncoding, h.AudioFormat, h.BitsPerSample)
	}
	return out, nil
}

// Downmix averages interleaved channels into a mono signal.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
