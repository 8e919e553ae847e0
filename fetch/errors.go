package fetch

import (
	"context"
	"errors"
	"strings"
)

// ErrNoItems is returned by a Fetcher when a creator yielded nothing.
var ErrNoItems = errors.New("no items returned")

// ErrorClass represents whether a harvest failure is worth retrying next run.
type ErrorClass int

const (
	// ErrorClassRetryable covers transient failures (network, 5xx, rate limits).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers failures that will repeat (private or missing account, bad handle).
	ErrorClassFatal
	// ErrorClassUnknown is reported for a nil error.
	ErrorClassUnknown
)

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

var (
	serverPatterns = []string{
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	}
	authPatterns = []string{
		"login required", "log in to", "must be logged", "authentication required",
		"private account", "this account is private", "401", "403", "access denied", "unauthorized",
	}
	missingPatterns = []string{
		"404", "not found", "couldn't find this account", "does not exist", "deleted",
		"no longer available", "unable to extract", "unsupported url", "invalid url",
		"no video formats found",
	}
	transientPatterns = []string{
		"connection reset", "connection refused", "timed out", "timeout",
		"temporary failure in name resolution", "no route to host", "network unreachable",
		"eof", "broken pipe",
		"429", "too many requests", "rate limit", "throttled",
		"fragment", "incomplete", "partial content",
	}
)

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Classify sorts a harvest error by its message. Server errors are checked
// before auth/missing patterns so "service unavailable" is not read as a
// missing clip. Unmatched errors are retryable.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, serverPatterns):
		return ErrorClassRetryable
	case containsAny(lower, authPatterns):
		return ErrorClassFatal
	case containsAny(lower, missingPatterns):
		return ErrorClassFatal
	case containsAny(lower, transientPatterns):
		return ErrorClassRetryable
	}
	return ErrorClassRetryable
}

// IsRetryable reports whether Classify(err) is retryable.
func IsRetryable(err error) bool { return Classify(err) == ErrorClassRetryable }
