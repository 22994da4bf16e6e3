package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternalError     = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	ErrUnavailable       = errors.New("service unavailable")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCanceled          = errors.New("operation canceled")

	// Pipeline error kinds
	ErrModelLoad    = errors.New("model load failed")
	ErrInvalidAudio = errors.New("invalid audio")
	ErrInference    = errors.New("inference failed")
)

// Error codes attached by the constructors below
const (
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeInternalError = "INTERNAL_ERROR"
	CodeModelLoad     = "MODEL_LOAD_FAILED"
	CodeInvalidAudio  = "INVALID_AUDIO"
	CodeInference     = "INFERENCE_FAILED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUnavailable   = "UNAVAILABLE"
	CodeCanceled      = "CANCELED"
	CodeTimeout       = "TIMEOUT"
)

// Error represents a structured error with a category, an optional cause and context fields.
type Error struct {
	// kind is the sentinel category matched by errors.Is
	kind error

	// cause is the underlying error, if any
	cause error

	message string
	fields  map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

func newError(skip int, kind, cause error, message, code string, fields []map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(skip + 1)

	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			fieldMap[k] = v
		}
	}

	return &Error{
		kind:    kind,
		cause:   cause,
		message: message,
		fields:  fieldMap,
		file:    file,
		line:    line,
		Code:    code,
	}
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	return newError(1, nil, nil, message, "", fields)
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	e := newError(1, nil, err, message, "", fields)
	// Wrapping a structured error keeps its code
	e.Code = GetErrorCode(err)
	return e
}

// NewModelLoadError reports that the model artifacts are absent or malformed.
func NewModelLoadError(message string, cause error, fields ...map[string]interface{}) *Error {
	return newError(1, ErrModelLoad, cause, message, CodeModelLoad, fields)
}

// NewInvalidAudio reports an upload that cannot be turned into a usable waveform.
func NewInvalidAudio(message string, cause error, fields ...map[string]interface{}) *Error {
	return newError(1, ErrInvalidAudio, cause, message, CodeInvalidAudio, fields)
}

// NewInferenceError reports a failed model call or malformed model output.
func NewInferenceError(message string, cause error, fields ...map[string]interface{}) *Error {
	return newError(1, ErrInference, cause, message, CodeInference, fields)
}

// NewNotFound creates a new ErrNotFound error with additional context
func NewNotFound(message string, fields ...map[string]interface{}) *Error {
	return newError(1, ErrNotFound, nil, message, CodeNotFound, fields)
}

// NewInvalidInput creates a new ErrInvalidInput error with additional context
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	return newError(1, ErrInvalidInput, nil, message, CodeInvalidInput, fields)
}

// NewInternalError creates a new ErrInternalError with additional context
func NewInternalError(message string, cause error, fields ...map[string]interface{}) *Error {
	return newError(1, ErrInternalError, cause, message, CodeInternalError, fields)
}

// NewUnavailable reports a dependency that is not ready yet.
func NewUnavailable(message string, fields ...map[string]interface{}) *Error {
	return newError(1, ErrUnavailable, nil, message, CodeUnavailable, fields)
}

// NewCanceled reports work abandoned because its context ended. A deadline
// becomes ErrTimeout, anything else ErrCanceled.
func NewCanceled(message string, cause error, fields ...map[string]interface{}) *Error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return newError(1, ErrTimeout, cause, message, CodeTimeout, fields)
	}
	return newError(1, ErrCanceled, cause, message, CodeCanceled, fields)
}

// NewResourceExhausted reports a client that exceeded its request allowance.
func NewResourceExhausted(message string, fields ...map[string]interface{}) *Error {
	return newError(1, ErrResourceExhausted, nil, message, CodeRateLimited, fields)
}

func (e *Error) clone(extra int) *Error {
	result := *e
	result.fields = make(map[string]interface{}, len(e.fields)+extra)
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return &result
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields adds multiple fields to the error context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(0)
	result.Code = code
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.cause == nil:
		return e.message
	case e.message == "":
		return e.cause.Error()
	default:
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
}

// Message returns the error message without the cause chain.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.message == "" && e.cause != nil {
		return e.cause.Error()
	}
	return e.message
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether the error belongs to the target category.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	return e.kind != nil && e.kind == target
}

// Kind returns the sentinel category of the error, searching wrapped causes.
func (e *Error) Kind() error {
	if e == nil {
		return nil
	}
	if e.kind != nil {
		return e.kind
	}
	var inner *Error
	if errors.As(e.cause, &inner) {
		return inner.Kind()
	}
	return nil
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// AsJSON returns the error in JSON-friendly map format
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"error":    e.Error(),
		"location": e.Location(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		if serr.Code != "" {
			return serr.Code
		}
		return GetErrorCode(serr.cause)
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}

// UserMessage returns the text shown to a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Message()
	}
	return err.Error()
}
