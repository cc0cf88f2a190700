package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind categorizes load failures. It only labels logs, metrics and CLI
// output; callers of the loader see a single failure kind.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindHTTP        Kind = "http"
	KindNotFound    Kind = "not_found"
	KindDecode      Kind = "decode"
	KindUnsupported Kind = "unsupported"
	KindCanceled    Kind = "canceled"
	KindUnknown     Kind = "unknown"
)

// LoadError represents a structured fetch failure with context
type LoadError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Message    string
	Cause      error
	Suggestion string
}

// Error implements the error interface
func (e *LoadError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.StatusCode > 0 {
		sb.WriteString(fmt.Sprintf(" (status %d)", e.StatusCode))
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a helpful suggestion to the error
func (e *LoadError) WithSuggestion(suggestion string) *LoadError {
	e.Suggestion = suggestion
	return e
}

// New creates a LoadError
func New(kind Kind, url, message string, cause error) *LoadError {
	return &LoadError{
		Kind:    kind,
		URL:     url,
		Message: message,
		Cause:   cause,
	}
}

// HTTPStatus creates an error for a non-success response
func HTTPStatus(url string, status int) *LoadError {
	kind := KindHTTP
	suggestion := ""
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		kind = KindNotFound
		suggestion = "The image may have been deleted. Check the post still exists."
	case status == http.StatusTooManyRequests:
		suggestion = "The image host is rate limiting. Lower loader.max_concurrent or retry later."
	case status >= 500:
		suggestion = "The image host returned a server error. Try again in a few moments."
	}
	err := New(kind, url, fmt.Sprintf("unexpected response for %s", url), nil)
	err.StatusCode = status
	err.Suggestion = suggestion
	return err
}

// Decode creates an error for a payload that is not a usable image
func Decode(url string, cause error) *LoadError {
	err := New(KindDecode, url, fmt.Sprintf("could not decode image %s", url), cause)
	err.Suggestion = "The resource is not a supported image (jpeg, png, gif, webp, svg)."
	return err
}

// Unsupported creates an error for a URL no fetcher handles
func Unsupported(url, scheme string) *LoadError {
	err := New(KindUnsupported, url, fmt.Sprintf("unsupported url scheme %q", scheme), nil)
	err.Suggestion = "Use http, https, s3 or file URLs."
	return err
}

// Categorize converts any error into a LoadError
func Categorize(err error) *LoadError {
	if err == nil {
		return nil
	}

	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return New(KindCanceled, "", "load canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, "", "load timed out", err).
			WithSuggestion("Raise fetch.timeout or check the image host.")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(KindTimeout, "", "load timed out", err).
				WithSuggestion("Raise fetch.timeout or check the image host.")
		}
		return New(KindNetwork, "", "network error", err).
			WithSuggestion("Check your internet connection and try again.")
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return New(KindNetwork, "", "could not reach image host", err).
			WithSuggestion("Check your internet connection and try again.")
	case strings.Contains(msg, "timeout"):
		return New(KindTimeout, "", "load timed out", err)
	default:
		return New(KindUnknown, "", "load failed", err)
	}
}

// KindOf returns the category of err, or "" for nil
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Categorize(err).Kind
}

// Format returns a user-friendly error message
func Format(err error) string {
	if err == nil {
		return ""
	}

	loadErr := Categorize(err)
	var sb strings.Builder

	sb.WriteString("Error")
	if loadErr.Kind != KindUnknown {
		sb.WriteString(" (")
		sb.WriteString(string(loadErr.Kind))
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(err.Error())

	if loadErr.Suggestion != "" {
		sb.WriteString("\n  Suggestion: ")
		sb.WriteString(loadErr.Suggestion)
	}

	return sb.String()
}
