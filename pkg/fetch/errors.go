package fetch

import (
	"errors"
	"fmt"
)

// ErrClientClosed is returned for requests submitted after Close, and for
// queued requests a closing client will no longer attempt.
var ErrClientClosed = errors.New("fetch client is closed")

// StatusError is the result of a request whose final attempt received a
// status the client retries on. Response holds that last response in full.
type StatusError struct {
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d after %d attempts",
		e.URL, e.Response.StatusCode, e.Response.Attempts)
}

// TransportError is the result of a request whose final attempt never
// produced an HTTP response: dial or TLS failure, per-attempt timeout, or a
// body read error. Attempts is zero when the request failed before any
// attempt, such as a malformed URL.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
