package http

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"emotion-detector/pkg/correlation"
	"emotion-detector/pkg/detector"
	"emotion-detector/pkg/errors"
)

const (
	// UploadField is the multipart field carrying the audio file
	UploadField = "audio"

	// CodeUploadTooLarge marks uploads rejected by MaxUploadBytes
	CodeUploadTooLarge = "UPLOAD_TOO_LARGE"

	multipartMemory = 32 << 20
)

// readUpload extracts the audio file from a multipart request. Multipart
// spill files are removed before it returns.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (detector.Upload, error) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return detector.Upload{}, s.uploadError(err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		if stderrors.Is(err, http.ErrMissingFile) {
			return detector.Upload{}, errors.NewInvalidInput(fmt.Sprintf("no audio file uploaded (form field %q)", UploadField))
		}
		return detector.Upload{}, s.uploadError(err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return detector.Upload{}, s.uploadError(err)
	}

	return detector.Upload{
		Name:      header.Filename,
		Data:      data,
		RequestID: correlation.FromContext(r.Context()).String(),
	}, nil
}

func (s *Server) uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewInvalidInput(fmt.Sprintf("upload exceeds the %d byte limit", tooLarge.Limit)).
			WithCode(CodeUploadTooLarge)
	}
	return errors.NewInvalidInput("malformed upload: " + err.Error())
}

// statusFor maps a pipeline or upload error to a response status
func statusFor(err error) int {
	if errors.GetErrorCode(err) == CodeUploadTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return errors.HTTPStatusFromError(err)
}

// hintFor suggests what the user can do next
func hintFor(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrModelLoad):
		return "Ensure the model files are present and restart the server"
	case stderrors.Is(err, errors.ErrInvalidAudio), stderrors.Is(err, errors.ErrInvalidInput):
		return "Try uploading a different audio file or check file format"
	case stderrors.Is(err, errors.ErrUnavailable):
		return "The model is still loading, retry shortly"
	case stderrors.Is(err, errors.ErrResourceExhausted):
		return "Too many requests, wait a moment and retry"
	default:
		return "Please try again"
	}
}
