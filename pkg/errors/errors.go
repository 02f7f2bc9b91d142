// Package errors defines the sentinel errors shared by the analysis engines
// and the AppError wrapper used to carry an HTTP status alongside them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrMissingVersion      = errors.New("version not in corpus")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrEmptyCorpus         = errors.New("corpus is empty")
	ErrNotFound            = errors.New("not found")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// MissingVersions builds the error returned when a caller names versions the
// corpus does not track.
func MissingVersions(versions []string) *AppError {
	return Newf(ErrMissingVersion, http.StatusNotFound, "missing version(s) %v", versions)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrMissingVersion), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyCorpus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrResourceUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
