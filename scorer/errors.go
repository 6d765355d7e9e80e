package scorer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrMalformedResponse indicates a 200 response whose body could not be decoded.
type ErrMalformedResponse struct {
	Err error
}

func (e ErrMalformedResponse) Error() string {
	return fmt.Errorf("malformed_response: %w", e.Err).Error()
}

func (e ErrMalformedResponse) Unwrap() error {
	return e.Err
}

// ErrUpstreamStatus indicates the scoring API answered with a non-200 status.
type ErrUpstreamStatus struct {
	StatusCode int
	Message    string
}

func (e ErrUpstreamStatus) Error() string {
	msg := fmt.Sprintf("upstream status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var malformed ErrMalformedResponse
	if errors.As(err, &malformed) {
		return "malformed_response"
	}
	var status ErrUpstreamStatus
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusBadRequest:
			return "bad_request"
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		if status.StatusCode >= http.StatusInternalServerError {
			return "server_error"
		}
		return "http_status"
	}
	return "other"
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}
