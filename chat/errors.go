package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass represents whether a fetch error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the fetch should be retried with the same cursor.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the poll loop must stop.
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reasons reported by the backend (or synthesized by a Fetcher) that decide
// the class regardless of HTTP status.
const (
	ReasonMalformedResponse = "malformedResponse"
	ReasonLiveChatEnded     = "liveChatEnded"
	ReasonLiveChatDisabled  = "liveChatDisabled"
	ReasonLiveChatNotFound  = "liveChatNotFound"
	ReasonRateLimitExceeded = "rateLimitExceeded"
)

var reasonClasses = map[string]ErrorClass{
	ReasonMalformedResponse:   ErrorClassFatal,
	ReasonLiveChatEnded:       ErrorClassFatal,
	ReasonLiveChatDisabled:    ErrorClassFatal,
	ReasonLiveChatNotFound:    ErrorClassFatal,
	"forbidden":               ErrorClassFatal,
	"quotaExceeded":           ErrorClassFatal,
	"authError":               ErrorClassFatal,
	"insufficientPermissions": ErrorClassFatal,
	"keyInvalid":              ErrorClassFatal,
	"pageTokenInvalid":        ErrorClassFatal,
	ReasonRateLimitExceeded:   ErrorClassRetryable,
	"userRateLimitExceeded":   ErrorClassRetryable,
	"backendError":            ErrorClassRetryable,
	"internalError":           ErrorClassRetryable,
}

// FetchError is the single error type a Fetcher reports. Status is the HTTP
// status (0 for transport failures); Reason is the backend's machine reason.
type FetchError struct {
	Status  int
	Reason  string
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("fetch chat page")
	if e.Status != 0 {
		fmt.Fprintf(&b, ": http %d", e.Status)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	switch {
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrChatEnded reports that the backend marked the chat session offline.
var ErrChatEnded = errors.New("live chat ended")

// ErrAlreadyStarted is returned when Run is called twice on one Engine.
var ErrAlreadyStarted = errors.New("chat engine already started")

// StopError is returned by Engine.Run when the loop terminates on a fetch failure.
type StopError struct {
	Err   error
	Class ErrorClass
}

func (e *StopError) Error() string { return "chat polling stopped: " + e.Err.Error() }

func (e *StopError) Unwrap() error { return e.Err }

// ClassifyFetchError classifies a fetch failure.
//
// Fatal errors:
// - Session gone (chat ended, disabled, not found)
// - Credentials or quota (401, 403 without a rate-limit reason)
// - Bad requests (400, 404, other 4xx) and malformed 200 responses
//
// Retryable errors:
// - Rate limiting (429, rateLimitExceeded)
// - Server errors (5xx)
// - Transport failures (timeouts, resets, DNS)
//
// Anything unrecognized is treated as retryable to avoid giving up too early.
func ClassifyFetchError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, ErrChatEnded) {
		return ErrorClassFatal
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		if c, ok := reasonClasses[fe.Reason]; ok {
			return c
		}
		switch {
		case fe.Status == 0:
			return classifyTransport(err)
		case fe.Status == http.StatusTooManyRequests,
			fe.Status == http.StatusRequestTimeout,
			fe.Status >= 500:
			return ErrorClassRetryable
		case fe.Status >= 400:
			return ErrorClassFatal
		}
		return ErrorClassRetryable
	}
	return classifyTransport(err)
}

func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	lower := strings.ToLower(err.Error())
	fatalPatterns := []string{
		"x509:",
		"certificate",
		"unsupported protocol scheme",
		"no api key",
	}
	for _, pattern := range fatalPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsRetryableError reports whether err should be retried with the same cursor.
func IsRetryableError(err error) bool {
	return ClassifyFetchError(err) == ErrorClassRetryable
}

// IsFatalError reports whether err must stop the poll loop.
func IsFatalError(err error) bool {
	return ClassifyFetchError(err) == ErrorClassFatal
}
