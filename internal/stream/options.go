package stream

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/tripstream/internal/storage"
	"github.com/tjfontaine/tripstream/internal/transport"
)

// TextReader yields decoded response text. Read returns io.EOF at the end of
// the body and transport.ErrAborted after cancellation.
type TextReader interface {
	Read() (string, error)
	Close() error
}

// Opener starts a streaming request.
type Opener interface {
	Open(ctx context.Context, req *transport.Request) (TextReader, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, req *transport.Request) (TextReader, error)

func (f OpenerFunc) Open(ctx context.Context, req *transport.Request) (TextReader, error) {
	return f(ctx, req)
}

// ClientOpener adapts a transport client to Opener.
func ClientOpener(c *transport.Client) Opener {
	return OpenerFunc(func(ctx context.Context, req *transport.Request) (TextReader, error) {
		s, err := c.Open(ctx, req)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOpener sets how streams are opened. The default is a transport.Client
// with no token provider.
func WithOpener(o Opener) Option {
	return func(p *Pipeline) {
		p.opener = o
	}
}

// WithClient opens streams through c.
func WithClient(c *transport.Client) Option {
	return func(p *Pipeline) {
		p.opener = ClientOpener(c)
	}
}

// WithResultStore persists completed results through the handoff bridge.
func WithResultStore(store storage.ResultStore) Option {
	return func(p *Pipeline) {
		p.results = store
	}
}

// WithFrameLog records every processed frame.
func WithFrameLog(log storage.FrameLog) Option {
	return func(p *Pipeline) {
		p.frames = log
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithTracer sets the tracer used for session spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// WithCompletion sets the callback invoked once per session with the frozen
// result.
func WithCompletion(fn func(Result)) Option {
	return func(p *Pipeline) {
		p.onComplete = fn
	}
}

// WithErrorHandler sets the callback invoked at most once per session with
// the failure message. Cancellation never invokes it.
func WithErrorHandler(fn func(message string)) Option {
	return func(p *Pipeline) {
		p.onError = fn
	}
}
