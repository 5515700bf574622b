package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultReadSize = 32 * 1024
	userAgent       = "tripstream/1.0"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. It is used as-is, without
// telemetry instrumentation.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenProvider sets the bearer token source.
func WithTokenProvider(tokens TokenProvider) ClientOption {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithBreaker guards stream opens with a circuit breaker.
func WithBreaker(b *Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithReadSize sets the size of the buffer handed to each body read.
func WithReadSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// Client opens streaming HTTP requests against the recommendation backend.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	breaker    *Breaker
	logger     *slog.Logger
	readSize   int
}

// NewClient creates a client whose default HTTP transport is instrumented
// with OpenTelemetry.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     slog.Default(),
		readSize:   defaultReadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one streaming request.
type Request struct {
	URL string

	// Method defaults to POST.
	Method string

	// Header holds extra headers. The streaming headers are always set.
	Header http.Header

	// Body is marshaled to JSON unless it is already a json.RawMessage or []byte.
	Body any
}

// Open issues the request and returns the response as a text stream. The
// stream is bound to ctx: cancelling ctx, or calling Close, aborts any
// in-flight read.
func (c *Client) Open(ctx context.Context, req *Request) (*Stream, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, method, req.URL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.setHeaders(streamCtx, httpReq, req.Header); err != nil {
		cancel()
		return nil, err
	}

	do := func() (*http.Response, error) {
		return c.do(streamCtx, httpReq)
	}

	var resp *http.Response
	if c.breaker != nil {
		resp, err = c.breaker.do(do)
	} else {
		resp, err = do()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	c.logger.Debug("stream opened",
		slog.String("url", req.URL),
		slog.Int("status", resp.StatusCode),
	)

	return &Stream{
		ctx:    streamCtx,
		cancel: cancel,
		body:   resp.Body,
		dec:    NewDecoder(),
		buf:    make([]byte, c.readSize),
	}, nil
}

func (c *Client) do(ctx context.Context, httpReq *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		return nil, newReasonError("request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
		}
		return nil, newStatusError(resp.StatusCode, statusText(resp))
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, newReasonError("empty body", nil)
	}

	return resp, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, extra http.Header) error {
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return newReasonError("token unavailable", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// Stream is an open response body read as text. Read is its only
// suspension point and must be called from a single goroutine.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	dec    *Decoder
	buf    []byte
	eof    bool

	// err is a read failure deferred until the text read with it is returned.
	err error
}

// Read blocks for the next decoded text chunk. It returns io.EOF at the end
// of the body and ErrAborted once the stream has been cancelled, even if
// more bytes are already buffered below it.
func (s *Stream) Read() (string, error) {
	for {
		if s.ctx.Err() != nil {
			return "", ErrAborted
		}
		if s.err != nil {
			return "", s.err
		}
		if s.eof {
			return "", io.EOF
		}

		n, err := s.body.Read(s.buf)
		if s.ctx.Err() != nil {
			return "", ErrAborted
		}

		if errors.Is(err, io.EOF) {
			s.eof = true
			text, derr := s.dec.Decode(s.buf[:n], true)
			if derr != nil {
				return "", newReasonError("decode failed", derr)
			}
			if text != "" {
				return text, nil
			}
			return "", io.EOF
		}

		if n > 0 {
			text, derr := s.dec.Decode(s.buf[:n], false)
			if derr != nil {
				return "", newReasonError("decode failed", derr)
			}
			if err == nil && text == "" {
				// Only part of a multi-byte sequence arrived.
				continue
			}
			if text != "" {
				if err != nil {
					s.err = newReasonError("read failed", err)
				}
				return text, nil
			}
		}

		if err != nil {
			return "", newReasonError("read failed", err)
		}
	}
}

// Close aborts the stream and releases the body.
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}
