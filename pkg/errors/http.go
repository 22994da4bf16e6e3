package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// statusMapping is checked in order; the first matching category wins.
var statusMapping = []struct {
	kind   error
	status int
}{
	{ErrInvalidAudio, http.StatusUnprocessableEntity},
	{ErrModelLoad, http.StatusServiceUnavailable},
	{ErrInference, http.StatusInternalServerError},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrInternalError, http.StatusInternalServerError},
	{ErrTimeout, http.StatusGatewayTimeout},
	{ErrUnavailable, http.StatusServiceUnavailable},
	{ErrResourceExhausted, http.StatusTooManyRequests},
	{ErrCanceled, http.StatusRequestTimeout},
}

// WriteError writes a standardized error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error) {
	var response map[string]interface{}

	var serr *Error
	switch {
	case err == nil:
		response = map[string]interface{}{"error": "Unknown error"}
	case errors.As(err, &serr):
		response = serr.AsJSON()
		if code := GetErrorCode(err); code != "" {
			response["code"] = code
		}
	default:
		response = map[string]interface{}{"error": err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusFromError(err))

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(response)
}

// HTTPStatusFromError determines the appropriate HTTP status code for an error
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	for _, m := range statusMapping {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
