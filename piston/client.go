package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	executePath  = "/execute"
	runtimesPath = "/runtimes"
)

// Client talks to a Piston API instance. It holds only configuration and is
// safe for concurrent use.
type Client struct {
	baseURL   string
	transport Transport
	headers   http.Header
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the transport used for every exchange.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithHTTPClient uses hc as the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.transport = hc }
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithHeaders adds default headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithLogger sets the logger. Exchanges are logged at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the API rooted at baseURL, e.g.
// "https://emkc.org/api/v2/piston". Trailing slashes are stripped.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: http.DefaultClient,
		headers:   make(http.Header),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CallOption configures a single call.
type CallOption func(*callConfig)

type callConfig struct {
	headers http.Header
}

// Header sets a header for one call, overriding client defaults.
func Header(key, value string) CallOption {
	return func(cc *callConfig) { cc.headers.Set(key, value) }
}

// Execute submits a job and waits for its complete result.
//
// Failures are always *Error: KindValidation (400), KindContentType (415),
// KindServer (500), KindNetwork (no response), or KindUnexpected.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest, opts ...CallOption) (*ExecuteResponse, error) {
	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := c.do(ctx, http.MethodPost, executePath, body,
		http.Header{"Content-Type": {"application/json"}}, opts)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	resp, err := resolveExecute(httpResp)
	if err != nil {
		return nil, err
	}
	if resp.runMissing {
		c.logger.Warn("execute response has no run stage",
			zap.String("language", resp.Language),
			zap.String("version", resp.Version),
		)
	}
	return resp.ExecuteResponse, nil
}

// Runtimes returns the service's runtime catalog.
//
// Failures are always *Error: KindServer (500), KindNetwork (no response), or
// KindUnexpected for any other status.
func (c *Client) Runtimes(ctx context.Context, opts ...CallOption) ([]RuntimeInfo, error) {
	httpResp, err := c.do(ctx, http.MethodGet, runtimesPath, nil,
		http.Header{"Accept": {"application/json"}}, opts)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	return resolveRuntimes(httpResp)
}

// do sends one request. Headers layer as fixed < client defaults < per call.
// The only error it returns is a KindNetwork *Error.
func (c *Client) do(ctx context.Context, method, path string, body []byte, fixed http.Header, opts []CallOption) (*http.Response, error) {
	cc := callConfig{headers: make(http.Header)}
	for _, opt := range opts {
		opt(&cc)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, newNetworkError(err)
	}
	for _, layer := range []http.Header{fixed, c.headers, cc.headers} {
		for k, v := range layer {
			httpReq.Header[k] = append([]string(nil), v...)
		}
	}

	start := time.Now()
	httpResp, err := c.send(httpReq)
	if err != nil {
		c.logger.Debug("piston request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, newNetworkError(err)
	}

	c.logger.Debug("piston request completed",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return httpResp, nil
}

// send calls the transport, converting a panic into an error so that custom
// transports failing in unusual ways still surface as network errors.
func (c *Client) send(req *http.Request) (resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = &PanicError{Value: r}
			}
		}
	}()

	resp, err = c.transport.Do(req)
	if resp != nil && resp.Body == nil {
		resp.Body = http.NoBody
	}
	if err != nil && resp != nil {
		resp.Body.Close()
		resp = nil
	}
	if err == nil && resp == nil {
		err = fmt.Errorf("transport returned no response")
	}
	return resp, err
}
