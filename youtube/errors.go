package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"ytdash/transport"
)

// quotaGuidance replaces the raw upstream message on quota exhaustion.
const quotaGuidance = "YouTube API daily quota exhausted: the quota resets at midnight Pacific Time, " +
	"try again after the reset or use a different API key"

// InvalidInputError reports a request the gateway refuses to send.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("youtube: invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError means no channel matched an identifier.
type NotFoundError struct {
	Identifier string
	Err        error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("youtube: channel %q not found", e.Identifier)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// QuotaExceededError means the API key's daily quota is spent. Error returns
// user-facing guidance; the upstream error is available through Unwrap.
type QuotaExceededError struct {
	Endpoint string
	Err      error
}

func (e *QuotaExceededError) Error() string { return quotaGuidance }
func (e *QuotaExceededError) Unwrap() error { return e.Err }

// AccessDeniedError is a 403 that is not quota related. Message is the
// upstream message verbatim.
type AccessDeniedError struct {
	Endpoint string
	Message  string
	Err      error
}

func (e *AccessDeniedError) Error() string { return "access denied: " + e.Message }
func (e *AccessDeniedError) Unwrap() error { return e.Err }

// AuthError means the analytics access token is missing, expired or revoked.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "youtube analytics: authorization required"
	}
	return "youtube analytics: authorization failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is any other upstream failure.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("youtube %s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("youtube %s: %s (status %d)", e.Endpoint, e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// classify maps an upstream error onto the gateway's error types. subject
// names what was looked up, for NotFoundError.
func classify(endpoint, subject string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &APIError{Endpoint: endpoint, Message: err.Error(), Err: err}
	}

	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}

	switch gerr.Code {
	case http.StatusForbidden:
		if isQuotaError(gerr) {
			return &QuotaExceededError{Endpoint: endpoint, Err: err}
		}
		if endpoint == endpointAnalytics && hasReason(gerr, "insufficientPermissions", "forbidden") {
			return &AuthError{Err: err}
		}
		return &AccessDeniedError{Endpoint: endpoint, Message: msg, Err: err}
	case http.StatusUnauthorized:
		return &AuthError{Err: err}
	case http.StatusNotFound:
		return &NotFoundError{Identifier: subject, Err: err}
	default:
		return &APIError{Endpoint: endpoint, StatusCode: gerr.Code, Message: msg, Err: err}
	}
}

func isQuotaError(gerr *googleapi.Error) bool {
	msg := strings.ToLower(gerr.Message)
	if strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
		return true
	}
	for _, item := range gerr.Errors {
		r := strings.ToLower(item.Reason)
		if strings.Contains(r, "quota") || strings.Contains(r, "limit") {
			return true
		}
	}
	return false
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

// retryable decides whether a raw upstream error is worth another attempt.
// Only 5xx responses and transport-level failures are; quota, auth, other
// 4xx and unreadable bodies would fail the same way again.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, transport.ErrCircuitOpen) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= 500
	}
	var serr *transport.StatusError
	if errors.As(err, &serr) {
		return serr.StatusCode >= 500
	}
	var derr *DecodeError
	if errors.As(err, &derr) {
		return errors.Is(derr.Err, io.ErrUnexpectedEOF)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
