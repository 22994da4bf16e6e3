package http

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/correlation"
	"emotion-detector/pkg/detector"
	"emotion-detector/pkg/emotion"
	"emotion-detector/pkg/errors"
	"emotion-detector/pkg/inference"
	"emotion-detector/pkg/metrics"
	"emotion-detector/pkg/model"
	"emotion-detector/pkg/ratelimit"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// happyClassifier favors Happy regardless of input
type happyClassifier struct{}

func (happyClassifier) Logits(ctx context.Context, samples []float32) ([]float64, error) {
	logits := make([]float64, emotion.Count)
	logits[emotion.Happy] = 3
	logits[emotion.Calm] = 1
	return logits, nil
}

type failingProvider struct{ err error }

func (p failingProvider) Classifier() (inference.Classifier, error) { return nil, p.err }

type fakeModel struct {
	state model.State
	err   error
}

func (f fakeModel) State() model.State { return f.state }

func (f fakeModel) Model() (*model.Model, error) {
	if f.state == model.StateReady {
		return model.NewModel(nil, nil, model.Info{
			ModelType:    "wav2vec2",
			Architecture: "Wav2Vec2ForSequenceClassification",
			WeightsBytes: 360 << 20,
			Parameters:   94_500_000,
			Labels:       emotion.Count,
			Format:       "safetensors",
		}), nil
	}
	return nil, f.err
}

type fakeDecoder struct{ available bool }

func (f fakeDecoder) Available(ctx context.Context) bool { return f.available }
func (f fakeDecoder) Path() string                       { return "/usr/bin/ffmpeg" }

type panicAnalyzer struct{}

func (panicAnalyzer) Analyze(ctx context.Context, upload detector.Upload) (*detector.Report, error) {
	panic("analyzer exploded")
}

// buildWAV encodes n samples of a 220 Hz tone as 16-bit mono PCM at 16 kHz
func buildWAV(n int) []byte {
	var pcm bytes.Buffer
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*220*float64(i)/16000))
		binary.Write(&pcm, binary.LittleEndian, v)
	}

	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+pcm.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&b, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&b, binary.LittleEndian, uint32(16000)) // rate
	binary.Write(&b, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&b, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&b, binary.LittleEndian, uint16(16))    // bits
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(pcm.Len()))
	b.Write(pcm.Bytes())
	return b.Bytes()
}

func multipartRequest(t *testing.T, path, field, filename string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type serverOption func(*Config, *Dependencies)

func newTestServer(t *testing.T, opts ...serverOption) http.Handler {
	t.Helper()
	logger := testLogger()

	pre := audio.NewPreprocessor(audio.NewChainDecoder(audio.NewWAVDecoder(logger), nil, logger), logger)
	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	deps := Dependencies{
		Analyzer: detector.New(pre, detector.StaticProvider{C: happyClassifier{}}, logger),
		Model:    fakeModel{state: model.StateReady},
		ModelDir: "./model",
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	s, err := NewServer(logger, cfg, deps)
	require.NoError(t, err)
	return s.Handler()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestIndexPage(t *testing.T) {
	h := newTestServer(t)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(correlation.HTTPHeader))
	assert.Contains(t, rr.Header().Get("Server"), "emotion-detector/")

	body := rr.Body.String()
	assert.Contains(t, body, "Voice Emotion Detector")
	assert.Contains(t, body, `accept=".wav,.mp3,.flac,.m4a,.ogg,.mp4"`)
	assert.Contains(t, body, "<strong>Upload</strong>")
	assert.Contains(t, body, "Clear speech")
	assert.Contains(t, body, "Wav2Vec2ForSequenceClassification")
	assert.NotContains(t, body, "Model loading failed")
}

func TestIndexPageShowsModelFailure(t *testing.T) {
	h := newTestServer(t, func(c *Config, d *Dependencies) {
		d.Model = fakeModel{state: model.StateFailed, err: errors.NewModelLoadError("model directory is incomplete", nil)}
	})

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Model loading failed: model directory is incomplete")
	assert.Contains(t, rr.Body.String(), "./model")
}

func TestAnalyzePage(t *testing.T) {
	h := newTestServer(t)

	rr := serve(h, multipartRequest(t, "/analyze", UploadField, "clip.wav", buildWAV(32000)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := rr.Body.String()
	assert.Contains(t, body, "clip.wav")
	assert.Contains(t, body, `<div class="emotion-name">Happy</div>`)
	assert.Contains(t, body, "Happy</strong> ⭐")
	assert.Equal(t, 1, strings.Count(body, "⭐"))
	assert.Contains(t, body, "2.00s")
	assert.Contains(t, body, "16000 Hz")
	assert.Contains(t, body, "32,000")
	assert.Contains(t, body, `src="data:audio/wav;base64,`)
	for _, l := range emotion.All() {
		assert.Contains(t, body, l.Title())
	}
}

func TestAnalyzePageRejectsShortAudio(t *testing.T) {
	h := newTestServer(t)

	rr := serve(h, multipartRequest(t, "/analyze", UploadField, "blip.wav", buildWAV(800)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "audio too short (minimum 0.1 seconds)")
	assert.Contains(t, rr.Body.String(), "Try uploading a different audio file")
	assert.NotContains(t, rr.Body.String(), "emotion-result")
}

func TestAnalyzeAPI(t *testing.T) {
	h := newTestServer(t)

	req := multipartRequest(t, "/api/v1/analyze", UploadField, "long.wav", buildWAV(400000))
	req.Header.Set(correlation.HTTPHeader, "req-123")
	rr := serve(h, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeJSON(t, rr)
	assert.Equal(t, "req-123", body["request_id"])
	assert.Equal(t, "long.wav", body["file_name"])
	assert.Equal(t, "Happy", body["title"])
	assert.Equal(t, true, body["truncated"])
	assert.EqualValues(t, audio.MaxSamples, body["sample_count"])
	assert.EqualValues(t, 16000, body["sample_rate"])
	assert.InDelta(t, 20.0, body["duration_seconds"], 1e-9)

	prediction := body["prediction"].(map[string]interface{})
	assert.Equal(t, "happy", prediction["label"])

	scores := body["scores"].([]interface{})
	require.Len(t, scores, emotion.Count)
	sum := 0.0
	for i, s := range scores {
		entry := s.(map[string]interface{})
		assert.Equal(t, emotion.Label(i).String(), entry["label"])
		sum += entry["probability"].(float64)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
	assert.InDelta(t, prediction["confidence"], scores[emotion.Happy].(map[string]interface{})["probability"], 1e-12)
}

func TestAnalyzeAPIErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		rr := serve(newTestServer(t), multipartRequest(t, "/api/v1/analyze", "", "", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, errors.CodeInvalidInput, decodeJSON(t, rr)["code"])
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader("raw"))
		rr := serve(newTestServer(t), req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty file", func(t *testing.T) {
		rr := serve(newTestServer(t), multipartRequest(t, "/api/v1/analyze", UploadField, "empty.wav", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		body := decodeJSON(t, rr)
		assert.Equal(t, errors.CodeInvalidAudio, body["code"])
		assert.Equal(t, "empty audio file", body["error"])
	})

	t.Run("upload too large", func(t *testing.T) {
		h := newTestServer(t, func(c *Config, d *Dependencies) { c.MaxUploadBytes = 1024 })
		rr := serve(h, multipartRequest(t, "/api/v1/analyze", UploadField, "clip.wav", buildWAV(16000)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Equal(t, CodeUploadTooLarge, decodeJSON(t, rr)["code"])
	})

	t.Run("model failed", func(t *testing.T) {
		loadErr := errors.NewModelLoadError("model directory not found", nil)
		h := newTestServer(t, func(c *Config, d *Dependencies) {
			logger := testLogger()
			pre := audio.NewPreprocessor(audio.NewChainDecoder(audio.NewWAVDecoder(logger), nil, logger), logger)
			d.Analyzer = detector.New(pre, failingProvider{err: loadErr}, logger)
			d.Model = fakeModel{state: model.StateFailed, err: loadErr}
		})
		rr := serve(h, multipartRequest(t, "/api/v1/analyze", UploadField, "clip.wav", buildWAV(16000)))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, errors.CodeModelLoad, decodeJSON(t, rr)["code"])
	})

	t.Run("panic", func(t *testing.T) {
		h := newTestServer(t, func(c *Config, d *Dependencies) { d.Analyzer = panicAnalyzer{} })
		rr := serve(h, multipartRequest(t, "/api/v1/analyze", UploadField, "clip.wav", buildWAV(16000)))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, errors.CodeInternalError, decodeJSON(t, rr)["code"])
	})
}

func TestRoutingAndMethods(t *testing.T) {
	h := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil)).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, httptest.NewRequest(http.MethodGet, "/analyze", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code, "metrics disabled")

	css := serve(h, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	assert.Equal(t, http.StatusOK, css.Code)
	assert.Contains(t, css.Body.String(), ".emotion-result")
}

func TestLabelsEndpoint(t *testing.T) {
	rr := serve(newTestServer(t), httptest.NewRequest(http.MethodGet, "/api/v1/labels", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeJSON(t, rr)
	labels := body["labels"].([]interface{})
	require.Len(t, labels, emotion.Count)
	first := labels[0].(map[string]interface{})
	assert.Equal(t, "angry", first["name"])
	assert.EqualValues(t, 0, first["index"])
	assert.Equal(t, "#ff4757", first["color"])
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h := newTestServer(t, func(c *Config, d *Dependencies) { d.Decoder = fakeDecoder{available: true} })

		rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		body := decodeJSON(t, rr)
		assert.Equal(t, "healthy", body["status"])

		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	})

	t.Run("ffmpeg missing", func(t *testing.T) {
		h := newTestServer(t, func(c *Config, d *Dependencies) { d.Decoder = fakeDecoder{available: false} })
		rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "degraded", decodeJSON(t, rr)["status"])
	})

	t.Run("model failed", func(t *testing.T) {
		h := newTestServer(t, func(c *Config, d *Dependencies) {
			d.Model = fakeModel{state: model.StateFailed, err: errors.NewModelLoadError("bad weights", nil)}
		})
		rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		checks := decodeJSON(t, rr)["checks"].(map[string]interface{})
		assert.Equal(t, "bad weights", checks["model"].(map[string]interface{})["message"])

		assert.Equal(t, http.StatusServiceUnavailable, serve(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	})

	t.Run("loading", func(t *testing.T) {
		h := newTestServer(t, func(c *Config, d *Dependencies) { d.Model = fakeModel{state: model.StateLoading} })
		assert.Equal(t, http.StatusServiceUnavailable, serve(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)
	})
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestServer(t, func(c *Config, d *Dependencies) { d.Decoder = fakeDecoder{available: true} })

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeJSON(t, rr)
	assert.Equal(t, "ok", body["status"])
	modelStatus := body["model"].(map[string]interface{})
	assert.Equal(t, "ready", modelStatus["state"])
	assert.NotNil(t, modelStatus["info"])
	limits := body["limits"].(map[string]interface{})
	assert.EqualValues(t, audio.MaxSamples, limits["max_samples"])
	assert.Equal(t, true, body["ffmpeg"].(map[string]interface{})["available"])
}

func TestRateLimitedUploads(t *testing.T) {
	limiter := ratelimit.NewHTTPMiddleware(&ratelimit.Config{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		BlockDuration:     time.Minute,
		WhitelistedPaths:  []string{"/health"},
	}, testLogger())
	t.Cleanup(limiter.Close)

	metrics.Init(testLogger())
	wasEnabled := metrics.IsMetricsEnabled()
	metrics.EnableMetrics(true)
	t.Cleanup(func() { metrics.EnableMetrics(wasEnabled) })
	rejected := metrics.HTTPRequestsTotal.WithLabelValues("POST /api/v1/analyze", http.MethodPost, "429")
	before := testutil.ToFloat64(rejected)

	h := newTestServer(t, func(c *Config, d *Dependencies) { d.RateLimit = limiter })

	first := multipartRequest(t, "/api/v1/analyze", UploadField, "clip.wav", buildWAV(16000))
	first.RemoteAddr = "203.0.113.5:4000"
	assert.Equal(t, http.StatusOK, serve(h, first).Code)

	second := multipartRequest(t, "/api/v1/analyze", UploadField, "clip.wav", buildWAV(16000))
	second.RemoteAddr = "203.0.113.5:4000"
	rr := serve(h, second)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(correlation.HTTPHeader))
	assert.Equal(t, before+1, testutil.ToFloat64(rejected))

	health := httptest.NewRequest(http.MethodGet, "/health", nil)
	health.RemoteAddr = "203.0.113.5:4000"
	assert.Equal(t, http.StatusOK, serve(h, health).Code)
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", formatCount(0))
	assert.Equal(t, "999", formatCount(999))
	assert.Equal(t, "1,000", formatCount(1000))
	assert.Equal(t, "320,000", formatCount(320000))
	assert.Equal(t, "-1,234,567", formatCount(-1234567))
}

func TestStartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.EnableMetrics = false
	s, err := NewServer(testLogger(), cfg, Dependencies{Model: fakeModel{state: model.StateReady}})
	require.NoError(t, err)

	serveErr := s.Start()
	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err, ok := <-serveErr:
		assert.False(t, ok, "unexpected serve error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.EnableMetrics = false
	s, err := NewServer(testLogger(), cfg, Dependencies{Model: fakeModel{state: model.StateReady}})
	require.NoError(t, err)

	err = <-s.Start()
	assert.Error(t, err)
}
