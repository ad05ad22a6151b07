package fetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mgrandl/pacer/pkg/metrics"
)

// Metric event names emitted through the Recorder.
const (
	EventRequestAttempt   = "request_attempt"
	EventRequestRetry     = "request_retry"
	EventRequestCompleted = "request_completed"
	EventRequestFailed    = "request_failed"
	EventRequestDuration  = "request_duration"
)

const (
	defaultPollInterval = 10 * time.Millisecond

	// Connection pool tuning for the shared transport.
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 32
	defaultIdleConnTimeout     = 90 * time.Second

	// maxBodyBytes caps how much of a response body is read into memory.
	maxBodyBytes = 10 << 20
)

// DefaultRetryStatuses returns the status codes retried when Config leaves
// RetryOnStatus nil.
func DefaultRetryStatuses() []int {
	return []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// Config holds the client's concurrency and retry settings.
type Config struct {
	// MaxConcurrent caps how many requests may be on the wire at once.
	// Zero means unbounded. Requests beyond the cap wait in FIFO order,
	// and a request waiting out its retry delay holds no slot.
	MaxConcurrent int

	// PollInterval is the drive loop's tick. It bounds how stale the
	// promotion of due retries can be. Zero means the 10ms default.
	PollInterval time.Duration

	// MaxRetries is how many additional attempts follow a failed first
	// one. Zero means a single attempt.
	MaxRetries int

	// RetryDelay is the fixed wait before each retry.
	RetryDelay time.Duration

	// RetryOnStatus lists the status codes treated as retryable failures.
	// Any other status settles the request successfully with that
	// response. Nil means DefaultRetryStatuses; an empty slice disables
	// status retries entirely. Transport errors are always retryable.
	RetryOnStatus []int
}

// DefaultConfig returns the settings used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		PollInterval:  defaultPollInterval,
		RetryOnStatus: DefaultRetryStatuses(),
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxConcurrent < 0 {
		cfg.MaxConcurrent = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.RetryOnStatus == nil {
		cfg.RetryOnStatus = DefaultRetryStatuses()
	}
	return cfg
}

// job tracks one submitted request across its attempts.
type job struct {
	req         Request
	fut         *Future
	attempts    int
	nextTry     time.Time
	submittedAt time.Time
}

type attemptResult struct {
	job  *job
	resp *Response
	err  error
}

// Client runs HTTP requests concurrently over one shared connection pool.
// A single drive loop admits queued requests up to MaxConcurrent, collects
// attempt results and schedules retries; callers observe outcomes through
// Futures and never block on submission.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	rec        metrics.Recorder
	retryOn    map[int]struct{}

	submit      chan *job
	completions chan *attemptResult
	closed      chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRecorder sets the metrics recorder used by the client.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// WithHTTPClient replaces the underlying HTTP client, for example to inject
// a custom transport or a test double.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client and starts its drive loop. Callers must Close it to
// release the loop.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:         cfg,
		logger:      slog.Default(),
		rec:         metrics.Nop{},
		retryOn:     make(map[int]struct{}, len(cfg.RetryOnStatus)),
		submit:      make(chan *job),
		completions: make(chan *attemptResult),
		closed:      make(chan struct{}),
	}
	for _, code := range cfg.RetryOnStatus {
		c.retryOn[code] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		}
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Do submits a request and returns its Future immediately. A malformed URL or
// method settles the Future at once with a *TransportError; after Close it
// settles with ErrClientClosed.
func (c *Client) Do(req Request) *Future {
	fut := newFuture()
	if err := validateRequest(req); err != nil {
		c.rec.Inc(EventRequestFailed)
		c.logger.Warn("rejected malformed request", slog.String("url", req.URL), slog.String("error", err.Error()))
		fut.settle(nil, &TransportError{URL: req.URL, Attempts: 0, Err: err})
		return fut
	}
	j := &job{req: req, fut: fut, submittedAt: time.Now()}
	select {
	case c.submit <- j:
	case <-c.closed:
		fut.settle(nil, ErrClientClosed)
	}
	return fut
}

// DoAll submits every request and returns the Futures in matching order.
func (c *Client) DoAll(reqs ...Request) []*Future {
	futs := make([]*Future, len(reqs))
	for i, req := range reqs {
		futs[i] = c.Do(req)
	}
	return futs
}

// Get submits a GET request for the given URL.
func (c *Client) Get(rawURL string) *Future {
	return c.Do(Request{URL: rawURL})
}

// validateRequest rejects requests that could never go on the wire, so they
// fail without consuming an attempt. The URL must be absolute.
func validateRequest(req Request) error {
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return err
	}
	_, err := http.NewRequest(req.Method, req.URL, nil)
	return err
}

// Close stops the client. Queued requests settle with ErrClientClosed,
// attempts already on the wire are allowed to finish without further
// retries, and Close returns once the drive loop has exited. Close is
// idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
	c.wg.Wait()
}

// run is the drive loop. It owns all admission, completion and retry state;
// nothing else touches it.
func (c *Client) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var (
		waiting  []*job
		retrying []*job
		inflight int
	)

	for {
		// Due retries re-enter the admission queue at the tail.
		now := time.Now()
		kept := retrying[:0]
		for _, j := range retrying {
			if j.nextTry.After(now) {
				kept = append(kept, j)
			} else {
				waiting = append(waiting, j)
			}
		}
		retrying = kept

		for len(waiting) > 0 && (c.cfg.MaxConcurrent == 0 || inflight < c.cfg.MaxConcurrent) {
			j := waiting[0]
			waiting = waiting[1:]
			inflight++
			j.attempts++
			go c.attempt(j)
		}

		select {
		case j := <-c.submit:
			waiting = append(waiting, j)
		case r := <-c.completions:
			inflight--
			if again := c.handleCompletion(r, true); again != nil {
				retrying = append(retrying, again)
			}
		case <-ticker.C:
		case <-c.closed:
			c.drain(waiting, retrying, inflight)
			return
		}
	}
}

// drain settles every queued request with ErrClientClosed and waits for
// in-flight attempts to deliver their results.
func (c *Client) drain(waiting, retrying []*job, inflight int) {
	for _, j := range waiting {
		c.settleFailure(j, ErrClientClosed)
	}
	for _, j := range retrying {
		c.settleFailure(j, ErrClientClosed)
	}
	for inflight > 0 {
		select {
		case j := <-c.submit:
			c.settleFailure(j, ErrClientClosed)
		case r := <-c.completions:
			inflight--
			c.handleCompletion(r, false)
		}
	}
}

// handleCompletion settles the job or, when allowRetry permits another
// attempt, returns it for the retry queue.
func (c *Client) handleCompletion(r *attemptResult, allowRetry bool) *job {
	j := r.job
	switch {
	case r.err != nil:
		if allowRetry && j.attempts <= c.cfg.MaxRetries {
			return c.scheduleRetry(j, slog.String("error", r.err.Error()))
		}
		c.settleFailure(j, &TransportError{URL: j.req.URL, Attempts: j.attempts, Err: r.err})
	case c.isRetryStatus(r.resp.StatusCode):
		if allowRetry && j.attempts <= c.cfg.MaxRetries {
			return c.scheduleRetry(j, slog.Int("status", r.resp.StatusCode))
		}
		r.resp.Attempts = j.attempts
		r.resp.Latency = time.Since(j.submittedAt)
		c.settleFailure(j, &StatusError{URL: j.req.URL, Response: r.resp})
	default:
		r.resp.Attempts = j.attempts
		r.resp.Latency = time.Since(j.submittedAt)
		c.settleSuccess(j, r.resp)
	}
	return nil
}

func (c *Client) isRetryStatus(code int) bool {
	_, ok := c.retryOn[code]
	return ok
}

func (c *Client) scheduleRetry(j *job, reason slog.Attr) *job {
	j.nextTry = time.Now().Add(c.cfg.RetryDelay)
	c.rec.Inc(EventRequestRetry)
	c.logger.Warn("retrying request",
		slog.String("url", j.req.URL),
		slog.Int("attempt", j.attempts),
		slog.Duration("delay", c.cfg.RetryDelay),
		reason)
	return j
}

func (c *Client) settleSuccess(j *job, resp *Response) {
	c.rec.Inc(EventRequestCompleted)
	c.rec.Observe(EventRequestDuration, resp.Latency)
	c.logger.Debug("request completed",
		slog.String("url", j.req.URL),
		slog.Int("status", resp.StatusCode),
		slog.Int("attempts", resp.Attempts),
		slog.Duration("latency", resp.Latency))
	j.fut.settle(resp, nil)
}

func (c *Client) settleFailure(j *job, err error) {
	c.rec.Inc(EventRequestFailed)
	if j.attempts > 0 {
		c.rec.Observe(EventRequestDuration, time.Since(j.submittedAt))
	}
	c.logger.Debug("request failed",
		slog.String("url", j.req.URL),
		slog.Int("attempts", j.attempts),
		slog.String("error", err.Error()))
	j.fut.settle(nil, err)
}

// attempt performs one HTTP exchange and reports the result to the drive
// loop. It runs on its own goroutine and holds one in-flight slot.
func (c *Client) attempt(j *job) {
	c.rec.Inc(EventRequestAttempt)
	c.logger.Debug("request attempt", slog.String("url", j.req.URL), slog.Int("attempt", j.attempts))
	resp, err := c.doAttempt(j.req)
	c.completions <- &attemptResult{job: j, resp: resp, err: err}
}

func (c *Client) doAttempt(req Request) (*Response, error) {
	ctx := context.Background()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}, nil
}
