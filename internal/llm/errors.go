package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failure classes a call can end in
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindRateLimited    ErrorKind = "rate_limited"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindServerError    ErrorKind = "server_error"
	KindNetwork        ErrorKind = "network"
	KindParseError     ErrorKind = "parse_error"
	KindUnknown        ErrorKind = "unknown"
)

// statusDescriptions explains the HTTP statuses the chat API is known to return
var statusDescriptions = map[int]string{
	http.StatusBadRequest:            "the request is malformed and could not be understood by the server",
	http.StatusUnauthorized:          "the API key was not accepted; check that it is correct",
	http.StatusForbidden:             "insufficient permissions for this key or model",
	http.StatusNotFound:              "the requested resource or endpoint does not exist",
	http.StatusRequestEntityTooLarge: "the request body is too large; shorten the prompt",
	http.StatusTooManyRequests:       "rate limit exceeded because of too many requests",
	http.StatusInternalServerError:   "internal server error on the provider side",
	http.StatusServiceUnavailable:    "the service is temporarily unavailable (maintenance or overload)",
}

// StatusDescription returns the human readable explanation of an HTTP status
func StatusDescription(status int) string {
	if d, ok := statusDescriptions[status]; ok {
		return d
	}
	return "unknown error"
}

// APIError is returned by every client call that does not produce a result.
// HTTPStatus is 0 when no response was received.
type APIError struct {
	Kind       ErrorKind
	HTTPStatus int
	Type       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s: %s", e.Kind, e.HTTPStatus, StatusDescription(e.HTTPStatus), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or KindUnknown for foreign errors
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// StatusOf extracts the HTTP status of an APIError, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus
	}
	return 0
}

// kindForStatus maps a non-2xx status to its error kind
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// kindForType maps the error.type of a response body when no status helps
func kindForType(errType string) ErrorKind {
	switch errType {
	case "authentication_error", "invalid_api_key", "permission_error":
		return KindAuthentication
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return KindRateLimited
	case "invalid_request_error":
		return KindInvalidRequest
	case "server_error", "api_error", "overloaded_error":
		return KindServerError
	default:
		return KindUnknown
	}
}
