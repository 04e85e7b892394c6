package kalatori

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

const (
	KindTransport = "transport"
	KindTimeout   = "timeout"
	KindHTTP      = "http"
	KindDecode    = "decode"
)

// TransportError is a request that never produced an HTTP response:
// connection failure, abort, or timeout.
type TransportError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: request timeout: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode reports 408 for timeouts so callers can treat them like the
// daemon's own request-timeout responses.
func (e *TransportError) StatusCode() int {
	if e.Timeout {
		return http.StatusRequestTimeout
	}
	return 0
}

func (e *TransportError) Kind() string {
	if e.Timeout {
		return KindTimeout
	}
	return KindTransport
}

// HTTPError is a non-2xx response from the daemon. Errors holds the
// per-parameter validation messages when the body carried them.
type HTTPError struct {
	Method     string
	URL        string
	Status     int
	StatusText string
	Errors     []domain.ApiError
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
	if len(e.Errors) == 0 {
		return msg
	}
	details := make([]string, 0, len(e.Errors))
	for _, ae := range e.Errors {
		details = append(details, ae.Parameter+": "+ae.Message)
	}
	return msg + " (" + strings.Join(details, "; ") + ")"
}

func (e *HTTPError) StatusCode() int { return e.Status }
func (e *HTTPError) Kind() string    { return KindHTTP }

// DecodeError is a 2xx response whose body is not the expected JSON.
type DecodeError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response (HTTP %d): %v", e.Status, e.Err)
}

func (e *DecodeError) Unwrap() error   { return e.Err }
func (e *DecodeError) StatusCode() int { return e.Status }
func (e *DecodeError) Kind() string    { return KindDecode }

type statusCoder interface {
	StatusCode() int
}

type kinder interface {
	Kind() string
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// Kind classifies err into one of the Kind constants, or "" for errors
// that did not come from the client.
func Kind(err error) string {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
