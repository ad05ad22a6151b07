package fetch

import (
	"net/http"
	"time"
)

// Request describes one HTTP exchange. The zero Method means GET.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// Timeout bounds each individual attempt. Zero means no per-attempt
	// deadline; retries always get a fresh one.
	Timeout time.Duration
}

// Response is the outcome of a request that received an HTTP response the
// client does not retry. The body is read and the connection returned to the
// pool before the Response is published; bodies over 10 MiB are truncated.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is how many attempts were made, including the first.
	Attempts int

	// Latency is the wall time from submission to settlement, retries and
	// retry delays included.
	Latency time.Duration
}
