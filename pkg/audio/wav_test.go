package audio

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// buildWAV assembles a RIFF/WAVE file with an extra chunk before the data.
func buildWAV(formatTag, channels, rate, bits int, payload []byte) []byte {
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:], uint16(formatTag))
	binary.LittleEndian.PutUint16(fmtChunk[2:], uint16(channels))
	binary.LittleEndian.PutUint32(fmtChunk[4:], uint32(rate))
	blockAlign := channels * bits / 8
	binary.LittleEndian.PutUint32(fmtChunk[8:], uint32(rate*blockAlign))
	binary.LittleEndian.PutUint16(fmtChunk[12:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(fmtChunk[14:], uint16(bits))

	var out []byte
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(fmtChunk)))
	out = append(out, fmtChunk...)

	// odd-sized LIST chunk exercises the pad byte
	out = append(out, "LIST"...)
	out = binary.LittleEndian.AppendUint32(out, 3)
	out = append(out, 'a', 'b', 'c', 0)

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)

	binary.LittleEndian.PutUint32(out[4:], uint32(len(out)-8))
	return out
}

func pcm16(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func TestWAVDecoder16BitMono(t *testing.T) {
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(i % 100 * 300)
	}
	data := buildWAV(wavFormatPCM, 1, 16000, 16, pcm16(samples))

	out, err := NewWAVDecoder(quietLogger()).Decode(context.Background(), data, FormatWAV)
	require.NoError(t, err)
	require.Len(t, out, 16000)
	assert.InDelta(t, float64(samples[5])/32768, float64(out[5]), 1e-6)
}

func TestWAVDecoderStereoDownmix(t *testing.T) {
	interleaved := make([]int16, 0, 4000)
	for i := 0; i < 2000; i++ {
		interleaved = append(interleaved, 16384, -16384)
	}
	data := buildWAV(wavFormatPCM, 2, 16000, 16, pcm16(interleaved))

	out, err := NewWAVDecoder(quietLogger()).Decode(context.Background(), data, FormatWAV)
	require.NoError(t, err)
	require.Len(t, out, 2000)
	for _, v := range out {
		assert.InDelta(t, 0, v, 1e-6)
	}
}

func TestWAVDecoderFloatAnd24Bit(t *testing.T) {
	floatPayload := make([]byte, 0, 1600*4)
	for i := 0; i < 1600; i++ {
		floatPayload = binary.LittleEndian.AppendUint32(floatPayload, math.Float32bits(0.25))
	}
	out, err := NewWAVDecoder(quietLogger()).Decode(context.Background(),
		buildWAV(wavFormatIEEEFloat, 1, 16000, 32, floatPayload), FormatWAV)
	require.NoError(t, err)
	require.Len(t, out, 1600)
	assert.Equal(t, float32(0.25), out[0])

	// -0.5 in 24-bit two's complement
	payload24 := make([]byte, 0, 1600*3)
	for i := 0; i < 1600; i++ {
		payload24 = append(payload24, 0x00, 0x00, 0xC0)
	}
	out, err = NewWAVDecoder(quietLogger()).Decode(context.Background(),
		buildWAV(wavFormatPCM, 1, 16000, 24, payload24), FormatWAV)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, out[0], 1e-6)
}

func TestWAVDecoderResamples(t *testing.T) {
	samples := make([]int16, 8000) // 1 s at 8 kHz
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	data := buildWAV(wavFormatPCM, 1, 8000, 16, pcm16(samples))

	out, err := NewWAVDecoder(quietLogger()).Decode(context.Background(), data, FormatWAV)
	require.NoError(t, err)
	require.Len(t, out, 16000)
	// the tone survives to the end
	var tail float64
	for _, v := range out[len(out)-50:] {
		tail = math.Max(tail, math.Abs(float64(v)))
	}
	assert.Greater(t, tail, 0.1)
}

func TestWAVDecoderRejectsCompressedPayload(t *testing.T) {
	data := buildWAV(0x0011, 1, 8000, 4, make([]byte, 4000)) // IMA ADPCM

	_, err := NewWAVDecoder(quietLogger()).Decode(context.Background(), data, FormatWAV)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestParseWAVErrors(t *testing.T) {
	_, _, err := ParseWAV([]byte("not a wav file at all"))
	assert.Error(t, err)

	headerOnly := buildWAV(wavFormatPCM, 1, 16000, 16, nil)
	_, payload, err := ParseWAV(headerOnly)
	require.NoError(t, err)
	assert.Empty(t, payload)

	truncated := buildWAV(wavFormatPCM, 0, 16000, 16, pcm16(make([]int16, 10)))
	_, _, err = ParseWAV(truncated)
	assert.Error(t, err)
}

func TestDownmix(t *testing.T) {
	assert.Equal(t, []float32{0.5, 1}, Downmix([]float32{0, 1, 1, 1}, 2))
	mono := []float32{0.1, 0.2}
	assert.Equal(t, mono, Downmix(mono, 1))
}
