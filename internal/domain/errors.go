package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrDuplicateJob = errors.New("duplicate job")
)

// ErrorKind is the closed set of user-facing failure kinds. Every error
// surfaced by the submission, status, history and cancellation surfaces
// maps to exactly one of these.
type ErrorKind string

const (
	KindUnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"
	KindFileNotFound      ErrorKind = "FILE_NOT_FOUND"
	KindFileTooLarge      ErrorKind = "FILE_TOO_LARGE"
	KindJobNotFound       ErrorKind = "JOB_NOT_FOUND"
	KindAccessDenied      ErrorKind = "ACCESS_DENIED"
	KindConversionFailed  ErrorKind = "CONVERSION_FAILED"
	KindInvalidParameter  ErrorKind = "INVALID_PARAMETER"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

// APIError carries an ErrorKind, a human-readable message and a structured
// detail map. It implements error so it can travel through ordinary return
// paths and be unwrapped at the HTTP boundary.
type APIError struct {
	Kind    ErrorKind      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus maps the kind to a response status code.
func (e *APIError) HTTPStatus() int {
	switch e.Kind {
	case KindUnsupportedFormat, KindInvalidParameter:
		return http.StatusBadRequest
	case KindFileNotFound, KindJobNotFound:
		return http.StatusNotFound
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// AsAPIError extracts an *APIError from err, wrapping anything else as an
// internal error so no ad hoc error shape escapes to clients.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal("internal server error")
}

func UnsupportedFormat(filename, detected string) *APIError {
	details := map[string]any{"filename": filename}
	if detected != "" {
		details["detected_format"] = detected
	}
	return &APIError{
		Kind: KindUnsupportedFormat,
		Message: fmt.Sprintf("File %q has an unsupported format. Supported formats: DOCX, XLSX, PPTX, PDF, PNG, JPEG, TIFF, HTML, CSV, Markdown, AsciiDoc.",
			filename),
		Details: details,
	}
}

// LegacyFormat is the dedicated rejection for old binary Office files.
func LegacyFormat(filename string) *APIError {
	ext := ""
	if i := strings.LastIndex(filename, "."); i >= 0 {
		ext = strings.ToLower(filename[i+1:])
	}
	return &APIError{
		Kind: KindUnsupportedFormat,
		Message: fmt.Sprintf("File %q is in a legacy Office format. Convert it to .docx/.xlsx/.pptx first.",
			filename),
		Details: map[string]any{"filename": filename, "detected_format": ext},
	}
}

func FileNotFound(path string) *APIError {
	return &APIError{
		Kind:    KindFileNotFound,
		Message: fmt.Sprintf("File %q not found.", path),
		Details: map[string]any{"file_path": path},
	}
}

func FileTooLarge(filename string, sizeBytes, maxBytes int64) *APIError {
	return &APIError{
		Kind: KindFileTooLarge,
		Message: fmt.Sprintf("File %q exceeds the size limit (%.1f MB > %.0f MB).",
			filename, float64(sizeBytes)/1024/1024, float64(maxBytes)/1024/1024),
		Details: map[string]any{
			"filename":   filename,
			"size_bytes": sizeBytes,
			"max_bytes":  maxBytes,
		},
	}
}

func JobNotFound(jobID string) *APIError {
	return &APIError{
		Kind:    KindJobNotFound,
		Message: fmt.Sprintf("Job %q not found.", jobID),
		Details: map[string]any{"job_id": jobID},
	}
}

func AccessDenied(reason string) *APIError {
	if reason == "" {
		reason = "You are not allowed to perform this operation."
	}
	return &APIError{
		Kind:    KindAccessDenied,
		Message: reason,
		Details: map[string]any{},
	}
}

func AdminRequired() *APIError {
	return &APIError{
		Kind:    KindAccessDenied,
		Message: "This operation requires admin privileges.",
		Details: map[string]any{"required_role": "admin"},
	}
}

func ConversionFailed(jobID, errorMessage string) *APIError {
	return &APIError{
		Kind:    KindConversionFailed,
		Message: fmt.Sprintf("Conversion failed: %s", errorMessage),
		Details: map[string]any{"job_id": jobID, "original_error": errorMessage},
	}
}

func InvalidParameter(name string, value any, reason string) *APIError {
	return &APIError{
		Kind:    KindInvalidParameter,
		Message: fmt.Sprintf("Invalid parameter %q: %s", name, reason),
		Details: map[string]any{"parameter": name, "value": value, "reason": reason},
	}
}

func Internal(message string) *APIError {
	return &APIError{
		Kind:    KindInternal,
		Message: message,
		Details: map[string]any{},
	}
}
