package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
)

var (
	ErrTimeout         = errors.New("operation timed out")
	ErrNetworkProblem  = errors.New("network-related error")
	ErrRequestCreation = errors.New("failed to create request")

	ErrServerProblem      = errors.New("server error (5xx)")
	ErrTooManyRequests    = errors.New("too many requests (429)")
	ErrResourceNotFound   = errors.New("resource not found (404)")
	ErrAccessDenied       = errors.New("access denied (403)")
	ErrAuthentication     = errors.New("authentication required (401)")
	ErrGone               = errors.New("resource gone (410)")
	ErrRangesNotSupported = errors.New("requested range not satisfiable (416)")
	ErrClientRequest      = errors.New("client error (4xx)")
	ErrUnexpectedStatus   = errors.New("unexpected status")

	ErrUnknown       = errors.New("unknown error")
	ErrUnexpectedEOF = errors.New("unexpected EOF")
)

// ClassifyHTTPError converts a non-2xx HTTP status code into an appropriate error.
func ClassifyHTTPError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrResourceNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangesNotSupported
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	default:
		switch {
		case statusCode >= http.StatusInternalServerError:
			return ErrServerProblem
		case statusCode >= http.StatusBadRequest:
			return ErrClientRequest
		case IsSuccess(statusCode):
			return nil
		default:
			return ErrUnexpectedStatus
		}
	}
}

// ClassifyError categorizes a transport or body read error into a sentinel error.
// Context cancellation is passed through untouched so callers can recognise it.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}

		return ErrNetworkProblem
	}

	return ErrUnknown
}
