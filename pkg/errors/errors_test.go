package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if err.Error() != "test error" {
		t.Errorf("Expected 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if err.Error() != "wrapped: base error" {
		t.Errorf("Unexpected message: %s", err.Error())
	}

	if errors.Unwrap(err) != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", errors.Unwrap(err))
	}

	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWithFieldDoesNotMutate(t *testing.T) {
	base := New("test error")
	withField := base.WithField("key", "value")

	if len(base.GetFields()) != 0 {
		t.Errorf("Original error was modified: %v", base.GetFields())
	}
	if withField.GetFields()["key"] != "value" {
		t.Errorf("Expected field['key'] = 'value', got: %v", withField.GetFields()["key"])
	}

	multi := withField.WithFields(map[string]interface{}{"other": 123})
	if len(multi.GetFields()) != 2 {
		t.Fatalf("Expected 2 fields, got %d", len(multi.GetFields()))
	}
}

func TestPipelineErrorKinds(t *testing.T) {
	cause := errors.New("ffmpeg exited with status 1")

	testCases := []struct {
		name string
		err  *Error
		kind error
		code string
	}{
		{"ModelLoad", NewModelLoadError("missing model.safetensors", nil), ErrModelLoad, CodeModelLoad},
		{"InvalidAudio", NewInvalidAudio("could not decode audio", cause), ErrInvalidAudio, CodeInvalidAudio},
		{"Inference", NewInferenceError("non-finite logits", nil), ErrInference, CodeInference},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.kind) {
				t.Errorf("errors.Is() should match %v", tc.kind)
			}
			if tc.err.GetCode() != tc.code {
				t.Errorf("Expected code %s, got %s", tc.code, tc.err.GetCode())
			}
			for _, other := range []error{ErrModelLoad, ErrInvalidAudio, ErrInference} {
				if other != tc.kind && errors.Is(tc.err, other) {
					t.Errorf("%s should not match %v", tc.name, other)
				}
			}
		})
	}

	wrapped := NewInvalidAudio("could not decode audio", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("cause should be reachable through errors.Is")
	}
	if UserMessage(wrapped) != "could not decode audio" {
		t.Errorf("Unexpected user message: %s", UserMessage(wrapped))
	}
}

func TestKindThroughWrapping(t *testing.T) {
	inner := NewInferenceError("session run failed", nil)
	outer := Wrap(fmt.Errorf("stage infer: %w", inner), "analysis failed")

	if !errors.Is(outer, ErrInference) {
		t.Error("errors.Is() should see through wrapping")
	}
	if GetErrorCode(outer) != CodeInference {
		t.Errorf("Expected inner code, got %q", GetErrorCode(outer))
	}
	if outer.Kind() != ErrInference {
		t.Errorf("Kind() = %v", outer.Kind())
	}
}

func TestNewCanceled(t *testing.T) {
	canceled := NewCanceled("inference interrupted", context.Canceled)
	if canceled.Kind() != ErrCanceled || canceled.GetCode() != CodeCanceled {
		t.Errorf("Unexpected kind %v code %s", canceled.Kind(), canceled.GetCode())
	}
	if !errors.Is(canceled, context.Canceled) {
		t.Error("context.Canceled should stay reachable")
	}

	timedOut := NewCanceled("inference interrupted", fmt.Errorf("run: %w", context.DeadlineExceeded))
	if timedOut.Kind() != ErrTimeout || timedOut.GetCode() != CodeTimeout {
		t.Errorf("Unexpected kind %v code %s", timedOut.Kind(), timedOut.GetCode())
	}
	if errors.Is(timedOut, ErrCanceled) {
		t.Error("a deadline should not count as a cancellation")
	}
}

func TestGetErrorFields(t *testing.T) {
	err := fmt.Errorf("stage decode: %w", NewInvalidAudio("bad", nil, map[string]interface{}{"format": "mp3"}))
	if got := GetErrorFields(err)["format"]; got != "mp3" {
		t.Errorf("Expected format field, got %v", got)
	}
	if GetErrorFields(errors.New("plain")) != nil {
		t.Error("plain errors carry no fields")
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"NotFound", ErrNotFound, http.StatusNotFound},
		{"InvalidInput", NewInvalidInput("bad form"), http.StatusBadRequest},
		{"Wrapped", Wrap(ErrNotFound, "wrapped"), http.StatusNotFound},
		{"Unknown", errors.New("unknown"), http.StatusInternalServerError},
		{"InvalidAudio", NewInvalidAudio("empty audio file", nil), http.StatusUnprocessableEntity},
		{"ModelLoad", NewModelLoadError("missing files", nil), http.StatusServiceUnavailable},
		{"Inference", NewInferenceError("bad shape", nil), http.StatusInternalServerError},
		{"Unavailable", NewUnavailable("model is still loading"), http.StatusServiceUnavailable},
		{"Canceled", NewCanceled("decode interrupted", context.Canceled), http.StatusRequestTimeout},
		{"Timeout", NewCanceled("decode interrupted", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status := HTTPStatusFromError(tc.err)
			if status != tc.expectedStatus {
				t.Errorf("Expected status %d, got: %d", tc.expectedStatus, status)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "StructuredError",
			err:            New("test error").WithField("key", "value").WithCode("TEST_CODE"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"code": "TEST_CODE"`,
		},
		{
			name:           "StandardError",
			err:            ErrNotFound,
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"error": "resource not found"`,
		},
		{
			name:           "InvalidAudio",
			err:            NewInvalidAudio("audio too short (minimum 0.1 seconds)", nil, map[string]interface{}{"samples": 800}),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"samples": 800`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			if rec.Code != tc.expectedStatus {
				t.Errorf("Expected status %d, got: %d", tc.expectedStatus, rec.Code)
			}

			contentType := rec.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got: %s", contentType)
			}

			body := rec.Body.String()
			if !strings.Contains(body, tc.expectedBody) {
				t.Errorf("Expected body to contain '%s', got: %s", tc.expectedBody, body)
			}
		})
	}
}
