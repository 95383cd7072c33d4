// Package httpclient provides the HTTP client used for detector backends, with
// context-aware timeouts, a tuned connection pool and an observation hook.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests if not specified.
	DefaultTimeout = 2 * time.Second

	// DefaultMaxBodyBytes bounds response bodies read into memory.
	DefaultMaxBodyBytes = 8 << 20

	// Default connection pool settings. A detector backend is a single host
	// called once per frame, so a small pool suffices.
	defaultMaxIdleConns        = 4
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second

	defaultResponseHeaderTimeout = 2 * time.Second
	defaultDialTimeout           = 2 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "trackwatch"
)

// Client wraps http.Client with per-request timeouts and bounded body reads.
// It is safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	maxBodyBytes   int64
	userAgent      string

	hookMu  sync.RWMutex
	observe func(req *http.Request, status int, elapsed time.Duration, err error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is the timeout applied if request context has no deadline
	DefaultTimeout time.Duration

	// MaxBodyBytes caps the response body size (default: 8 MiB)
	MaxBodyBytes int64

	// UserAgent is added to all requests
	UserAgent string

	// MaxIdleConnsPerHost controls the per-host connection pool (default: 4)
	MaxIdleConnsPerHost int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      DefaultTimeout,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		UserAgent:           defaultUserAgent,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	}
}

// New creates a new HTTP client. Zero fields of cfg take their defaults; a nil
// cfg means DefaultConfig.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.MaxBodyBytes > 0 {
			c.MaxBodyBytes = cfg.MaxBodyBytes
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		MaxIdleConns:          max(defaultMaxIdleConns, c.MaxIdleConnsPerHost),
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		maxBodyBytes:   c.MaxBodyBytes,
		userAgent:      c.UserAgent,
	}
}

// HTTPClient exposes the underlying client, e.g. for transport mocking.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// PostBytes posts body and reads the whole response within the request
// timeout. If ctx has no deadline the client's default timeout applies.
func (c *Client) PostBytes(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.notify(req, 0, time.Since(start), err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err == nil && int64(len(data)) > c.maxBodyBytes {
		err = fmt.Errorf("response body exceeds %d bytes", c.maxBodyBytes)
	}
	c.notify(req, resp.StatusCode, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// SetObserveHook sets a function called after each request completes.
// Safe to call concurrently with requests.
func (c *Client) SetObserveHook(fn func(req *http.Request, status int, elapsed time.Duration, err error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.observe = fn
}

func (c *Client) notify(req *http.Request, status int, elapsed time.Duration, err error) {
	c.hookMu.RLock()
	fn := c.observe
	c.hookMu.RUnlock()
	if fn != nil {
		fn(req, status, elapsed, err)
	}
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
