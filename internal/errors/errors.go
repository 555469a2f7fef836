package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

// Kind discriminates the failure classes a transfer can run into.
type Kind string

const (
	KindFilesystem Kind = "FILESYSTEM" // Missing directories, I/O errors
	KindValidation Kind = "VALIDATION" // Checksum mismatch
	KindRequest    Kind = "REQUEST"    // Non-2xx response, empty body, transport errors
	KindUnknown    Kind = "UNKNOWN"    // Unclassified errors
)

// Common sentinel errors
var (
	ErrAborted          = New("transfer aborted")
	ErrFailed           = New("transfer failed")
	ErrInterrupted      = New("transfer interrupted by shutdown")
	ErrChecksumMismatch = New("checksum mismatch")
	ErrEmptyBody        = New("response body is empty")
	ErrMissingDirectory = New("directory does not exist")
)

// TransferError is a failure of one transfer attempt.
type TransferError struct {
	Err        error     // Original error
	Kind       Kind      // Failure class
	Resource   string    // URL or path being accessed
	StatusCode int       // HTTP status code, 0 when no response was received
	Timestamp  time.Time // When the error occurred
}

// Error implements the error interface
func (e *TransferError) Error() string {
	if e.Kind == KindRequest && e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status: %d): %v", e.Kind, e.Resource, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Resource, e.Err)
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewFilesystemError creates a filesystem related error
func NewFilesystemError(err error, resource string) *TransferError {
	return newError(err, KindFilesystem, resource, 0)
}

// NewValidationError creates a content validation error
func NewValidationError(err error, resource string) *TransferError {
	return newError(err, KindValidation, resource, 0)
}

// NewRequestError creates a request error. statusCode is 0 when the request never got a response.
func NewRequestError(err error, resource string, statusCode int) *TransferError {
	return newError(err, KindRequest, resource, statusCode)
}

func newError(err error, kind Kind, resource string, statusCode int) *TransferError {
	return &TransferError{
		Err:        err,
		Kind:       kind,
		Resource:   resource,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

// KindOf extracts the kind from an error, KindUnknown when it is not a TransferError.
func KindOf(err error) Kind {
	var te *TransferError
	if As(err, &te) {
		return te.Kind
	}

	return KindUnknown
}

// StatusCode extracts the HTTP status code from an error if available
func StatusCode(err error) (int, bool) {
	var te *TransferError
	if As(err, &te) && te.StatusCode != 0 {
		return te.StatusCode, true
	}

	return 0, false
}

// IsRetryable is the default retry admission policy.
// Status codes above 505 are deliberately treated like client errors.
func IsRetryable(err error) bool {
	if err == nil || Is(err, ErrAborted) || Is(err, ErrInterrupted) {
		return false
	}

	switch KindOf(err) {
	case KindFilesystem, KindValidation:
		return false
	case KindRequest:
		code, ok := StatusCode(err)
		if !ok {
			return true
		}

		if code >= http.StatusBadRequest && code < http.StatusInternalServerError {
			return false
		}

		if code > http.StatusHTTPVersionNotSupported {
			return false
		}
	}

	return true
}
