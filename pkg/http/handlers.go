package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/audio"
	"emotion-detector/pkg/correlation"
	"emotion-detector/pkg/detector"
	"emotion-detector/pkg/emotion"
	"emotion-detector/pkg/errors"
	"emotion-detector/pkg/inference"
	"emotion-detector/pkg/metrics"
	"emotion-detector/pkg/version"
)

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, http.StatusOK, s.pages.base(s.deps.Model, s.deps.ModelDir))
}

func (s *Server) analyzePageHandler(w http.ResponseWriter, r *http.Request) {
	data := s.pages.base(s.deps.Model, s.deps.ModelDir)

	upload, err := s.readUpload(w, r)
	if err == nil {
		var report *detector.Report
		report, err = s.deps.Analyzer.Analyze(r.Context(), upload)
		if err == nil {
			data.Result = newResultView(report, upload.Data)
			s.writePage(w, r, http.StatusOK, data)
			return
		}
	}

	status := statusFor(err)
	data.Error = &errorView{
		Status:  status,
		Message: errors.UserMessage(err),
		Hint:    hintFor(err),
	}
	s.writePage(w, r, status, data)
}

func (s *Server) writePage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	body, err := s.pages.render(data)
	if err != nil {
		correlation.Entry(r.Context(), s.logger).WithError(err).Error("Failed to render page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// analyzeResponse is the JSON body of a successful API analysis
type analyzeResponse struct {
	*detector.Report
	Title     string            `json:"title"`
	Emoji     string            `json:"emoji"`
	Scores    []inference.Score `json:"scores"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

func (s *Server) analyzeAPIHandler(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	report, err := s.deps.Analyzer.Analyze(r.Context(), upload)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Report:    report,
		Title:     report.Prediction.Label.Title(),
		Emoji:     report.Prediction.Label.Emoji(),
		Scores:    report.Prediction.Scores(),
		ElapsedMS: report.Elapsed.Milliseconds(),
	})
}

type labelResponse struct {
	Index int `json:"index"`
	emotion.Display
}

func (s *Server) labelsHandler(w http.ResponseWriter, r *http.Request) {
	labels := make([]labelResponse, 0, emotion.Count)
	for _, l := range emotion.All() {
		labels = append(labels, labelResponse{Index: l.Index(), Display: l.Display()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"labels": labels,
		"count":  len(labels),
	})
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"version":    version.Version,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"started_at": s.startTime.Format(time.RFC3339),
		"limits": map[string]interface{}{
			"sample_rate":      audio.TargetSampleRate,
			"min_samples":      audio.MinSamples,
			"max_samples":      audio.MaxSamples,
			"max_upload_bytes": s.config.MaxUploadBytes,
			"formats":          audio.SupportedFormats(),
		},
	}

	if s.deps.Model != nil {
		modelStatus := map[string]interface{}{
			"state": s.deps.Model.State().String(),
			"dir":   s.deps.ModelDir,
		}
		if m, err := s.deps.Model.Model(); err == nil && m != nil {
			modelStatus["info"] = m.Info()
		} else if err != nil {
			modelStatus["error"] = errors.UserMessage(err)
		}
		status["model"] = modelStatus
	}

	status["metrics"] = map[string]interface{}{
		"enabled": s.config.EnableMetrics && metrics.IsMetricsEnabled(),
		"path":    metrics.MetricsPath(),
	}

	if s.deps.Decoder != nil {
		status["ffmpeg"] = map[string]interface{}{
			"path":      s.deps.Decoder.Path(),
			"available": s.deps.Decoder.Available(r.Context()),
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// ErrorResponse sends a standardized JSON error response
func (s *Server) ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]interface{}{
		"error":      errors.UserMessage(err),
		"code":       errors.GetErrorCode(err),
		"request_id": correlation.FromContext(r.Context()).String(),
	}
	writeJSON(w, status, body)

	correlation.Entry(r.Context(), s.logger).WithError(err).WithFields(logrus.Fields{
		"status": status,
		"path":   r.URL.Path,
	}).Debug("HTTP error response sent")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
