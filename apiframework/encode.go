package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/medstay/inbox/libtracker"
)

// MaxRequestBodyBytes bounds every decoded request body.
const MaxRequestBodyBytes = 1 << 20

// version is set at build time with -ldflags "-X github.com/medstay/inbox/apiframework.version=..."
var version = ""

type AboutServer struct {
	Version        string `json:"version"`
	NodeInstanceID string `json:"nodeInstanceID"`
}

// GetVersion returns the injected build version, falling back to the module version.
func GetVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// APIError is an error with an OpenAI-style type and code attached.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string

	retryAfter time.Duration
}

func (e *APIError) Error() string { return e.message }

func (e *APIError) Unwrap() error { return e.err }

func (e *APIError) Param() string { return e.param }

func (e *APIError) Type() string { return e.errorType }

func (e *APIError) Code() string { return e.errorCode }

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

func Encode[T any](w http.ResponseWriter, _ *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func Decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, ErrEmptyRequestBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxRequestBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, ErrEmptyRequestBody
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return v, err
		}
		return v, fmt.Errorf("%w: decode json: %w", ErrBadRequest, err)
	}
	return v, nil
}

// Error writes err as a JSON error body with the status derived from err and op.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	rule := classify(op, err)
	errorType, errorCode, param := rule.errorType, rule.errorCode, ""

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		param = apiErr.param
		if apiErr.errorType != "" {
			errorType, errorCode = apiErr.errorType, apiErr.errorCode
		}
	}

	if rule.status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rule.status,
			"request_id", libtracker.RequestID(r.Context()),
			"error", err,
		)
	}
	if rule.retryAfter {
		w.Header().Set("Retry-After", "1")
	}

	body := errorBody{Error: errorDetail{
		Message: err.Error(),
		Type:    errorType,
		Code:    errorCode,
	}}
	if param != "" {
		body.Error.Param = &param
	}
	return Encode(w, r, rule.status, body)
}

// GetPathParam returns the path value name. description documents the parameter.
func GetPathParam(r *http.Request, name string, description string) string {
	_ = description
	return r.PathValue(name)
}

// GetQueryParam returns the query value name, or defaultValue when absent.
func GetQueryParam(r *http.Request, name, defaultValue, description string) string {
	_ = description
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return defaultValue
}
