// Package backend routes all calls to the print-shop backend through
// one of a fixed, ordered pool of origin servers, with per-call
// timeout, sticky-origin affinity and automatic failover.
package backend

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/example/printkiosk/internal/kvstore"
)

// DefaultTimeout bounds a single attempt unless the caller overrides it
const DefaultTimeout = 40 * time.Second

const stickyKey = "sticky-server"

// BodyFunc produces a fresh request body and its content type for each
// attempt. Failover re-invokes it so every origin sees a full body.
type BodyFunc func() (io.Reader, string, error)

// Options tune one call
type Options struct {
	// Timeout for each attempt; DefaultTimeout when zero
	Timeout time.Duration
	// NoRetry returns the first response or error as-is instead of
	// failing over
	NoRetry bool
	// MaxRetries caps total attempts; pool size when zero
	MaxRetries int
	// Header fields added to every attempt
	Header http.Header
}

// Response is a fully read backend response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is the load-balanced backend client. The sticky origin is
// persisted in the key-value store so affinity survives restarts.
type Client struct {
	servers []string
	httpc   *http.Client
	store   *kvstore.Store
	timeout time.Duration

	mu sync.Mutex
	rr int
}

// New creates a client over an ordered origin pool
func New(servers []string, store *kvstore.Store) (*Client, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("backend: at least one server is required")
	}
	return &Client{
		servers: servers,
		// Per-attempt deadlines come from the request context
		httpc:   &http.Client{},
		store:   store,
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout changes the per-attempt timeout applied when a call does
// not set its own
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Servers returns the configured pool
func (c *Client) Servers() []string {
	return c.servers
}

// Sticky returns the current sticky origin, assigning the next origin
// in round-robin order if none is persisted or the persisted one left
// the pool.
func (c *Client) Sticky() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s string
	if err := c.store.Get(stickyKey, &s); err == nil && c.member(s) {
		return s
	}
	s = c.servers[c.rr%len(c.servers)]
	c.rr++
	if err := c.store.Put(stickyKey, s, 0); err != nil {
		log.Printf("Failed to persist sticky server: %v", err)
	}
	return s
}

func (c *Client) member(origin string) bool {
	for _, s := range c.servers {
		if s == origin {
			return true
		}
	}
	return false
}

func (c *Client) setSticky(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(stickyKey, origin, 0); err != nil {
		log.Printf("Failed to persist sticky server: %v", err)
	}
}

func (c *Client) clearSticky() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(stickyKey); err != nil {
		log.Printf("Failed to clear sticky server: %v", err)
	}
}

// Do issues a request against the sticky origin and fails over across
// the remaining pool members on a transport error or non-2xx response.
// The first 2xx origin becomes the new sticky server. With NoRetry the
// first response or error is returned unchanged.
func (c *Client) Do(ctx context.Context, method, path string, body BodyFunc, opts Options) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	maxAttempts := opts.MaxRetries
	if maxAttempts <= 0 || maxAttempts > len(c.servers) {
		maxAttempts = len(c.servers)
	}

	primary := c.Sticky()
	resp, err := c.attempt(ctx, primary, method, path, body, timeout, opts.Header)
	if err == nil && resp.OK() {
		return resp, nil
	}
	if opts.NoRetry {
		return resp, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	lastErr := err
	if lastErr == nil {
		lastErr = &StatusError{Code: resp.StatusCode, Message: ErrorMessage(resp.Body, resp.StatusCode)}
	}
	log.Printf("Backend %s failed (%v), failing over", primary, lastErr)
	c.clearSticky()

	attempts := 1
	for _, origin := range c.servers {
		if origin == primary || attempts >= maxAttempts {
			continue
		}
		attempts++
		resp, err = c.attempt(ctx, origin, method, path, body, timeout, opts.Header)
		if err == nil && resp.OK() {
			c.setSticky(origin)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{Code: resp.StatusCode, Message: ErrorMessage(resp.Body, resp.StatusCode)}
		}
		log.Printf("Backend %s failed (%v)", origin, lastErr)
	}

	return nil, fmt.Errorf("%w: last error: %v", ErrAllServersFailed, lastErr)
}

// attempt runs one bounded request against one origin. A deadline hit
// on the internal budget is reported as ErrTimeout; cancellation of the
// caller's context is passed through untranslated.
func (c *Client) attempt(ctx context.Context, origin, method, path string, body BodyFunc, timeout time.Duration, hdr http.Header) (*Response, error) {
	var reader io.Reader
	var contentType string
	if body != nil {
		var err error
		reader, contentType, err = body()
		if err != nil {
			return nil, fmt.Errorf("failed to build request body: %w", err)
		}
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, method, origin+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, c.classify(ctx, actx, err, timeout)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, c.classify(ctx, actx, err, timeout)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func (c *Client) classify(ctx, actx context.Context, err error, timeout time.Duration) error {
	if actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
