package describe

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names an error category in responses and logs.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindUpstreamHTTP  Kind = "upstream_http_error"
	KindUpstreamParse Kind = "upstream_parse_error"
	KindEmptyResponse Kind = "empty_response_error"
	KindInternal      Kind = "internal_error"
)

// ValidationError represents missing or malformed caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// UpstreamHTTPError represents a non-2xx answer, or a transport failure when
// StatusCode is 0.
type UpstreamHTTPError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamHTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("HTTP %d from upstream: %s", e.StatusCode, truncate(e.Body, 200))
}

func (e *UpstreamHTTPError) Unwrap() error { return e.Err }

// UpstreamParseError represents a 2xx body that is not valid JSON.
type UpstreamParseError struct {
	Body string
	Err  error
}

func (e *UpstreamParseError) Error() string {
	return fmt.Sprintf("upstream response is not valid JSON: %v", e.Err)
}

func (e *UpstreamParseError) Unwrap() error { return e.Err }

// EmptyResponseError means no known response shape carried a description.
type EmptyResponseError struct {
	Body string
}

func (e *EmptyResponseError) Error() string {
	return "upstream response contained no description"
}

// KindOf classifies err; anything unrecognized is internal.
func KindOf(err error) Kind {
	var (
		valErr   *ValidationError
		httpErr  *UpstreamHTTPError
		parseErr *UpstreamParseError
		emptyErr *EmptyResponseError
	)
	switch {
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &httpErr):
		return KindUpstreamHTTP
	case errors.As(err, &parseErr):
		return KindUpstreamParse
	case errors.As(err, &emptyErr):
		return KindEmptyResponse
	default:
		return KindInternal
	}
}

// HTTPStatus maps err to the status returned to the caller.
func HTTPStatus(err error) int {
	if KindOf(err) == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage is the caller-facing message for err.
func PublicMessage(err error) string {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	switch KindOf(err) {
	case KindUpstreamHTTP:
		return "Upstream API failed"
	case KindUpstreamParse:
		return "Invalid response from upstream API"
	case KindEmptyResponse:
		return "Upstream API returned no description"
	}
	return "Internal server error"
}

// RawPayload returns the upstream body attached to err, if any.
func RawPayload(err error) string {
	var (
		httpErr  *UpstreamHTTPError
		parseErr *UpstreamParseError
		emptyErr *EmptyResponseError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Body
	case errors.As(err, &parseErr):
		return parseErr.Body
	case errors.As(err, &emptyErr):
		return emptyErr.Body
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
