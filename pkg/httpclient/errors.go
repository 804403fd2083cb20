package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/AdityaNittala03/gonews-auth/pkg/errors"
)

// errorEnvelope mirrors the error body returned by the auth service:
// a flat object with a human-readable message and a machine code.
type errorEnvelope struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an appropriate AppError. If the body matches the standard error
// envelope, the code and message are preserved. Otherwise a generic error is
// returned with the status code and raw body.
//
// The caller should only invoke this when resp.StatusCode indicates an error
// (i.e., not 2xx). The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, endpoint string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", endpoint, resp.StatusCode, err)
	}

	var envelope errorEnvelope
	if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Code != "" {
		return mapEnvelopeError(resp.StatusCode, envelope.Code, envelope.Message)
	}

	// Fallback: unstructured error body.
	return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, string(bodyBytes))
}

// mapEnvelopeError translates the service's HTTP status code and error code
// into an AppError that preserves the error semantics, so callers can use
// errors.Is against the shared sentinels.
func mapEnvelopeError(status int, code, message string) error {
	switch status {
	case http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case http.StatusForbidden:
		return apperrors.Forbidden(message)
	case http.StatusNotFound:
		return &apperrors.AppError{
			Code:    code,
			Message: message,
			Status:  http.StatusNotFound,
			Err:     apperrors.ErrNotFound,
		}
	case http.StatusConflict:
		return &apperrors.AppError{
			Code:    code,
			Message: message,
			Status:  http.StatusConflict,
			Err:     apperrors.ErrAlreadyExists,
		}
	case http.StatusTooManyRequests:
		return apperrors.RateLimited(message)
	case http.StatusServiceUnavailable:
		return &apperrors.AppError{
			Code:    code,
			Message: message,
			Status:  http.StatusServiceUnavailable,
			Err:     apperrors.ErrServiceUnavail,
		}
	default:
		if status >= 500 {
			return apperrors.Internal(fmt.Errorf("server error (%d/%s): %s", status, code, message))
		}
		return &apperrors.AppError{
			Code:    code,
			Message: message,
			Status:  status,
		}
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
// Client errors should not be retried since the request itself was invalid.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
