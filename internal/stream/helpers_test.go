package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/tripstream/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelopeJSON(t *testing.T, typ string, data any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": typ, "data": data})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return string(b)
}

func chunkJSON(t *testing.T, part, fragment string) string {
	t.Helper()
	return envelopeJSON(t, "chunk", map[string]any{"part": part, "chunk": fragment})
}

func sseBody(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: ")
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// sliceReader returns its chunks in order, then io.EOF.
type sliceReader struct {
	mu     sync.Mutex
	chunks []string
}

func (r *sliceReader) Read() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return "", io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, nil
}

func (r *sliceReader) Close() error { return nil }

func sliceOpener(chunks ...string) Opener {
	return OpenerFunc(func(context.Context, *transport.Request) (TextReader, error) {
		return &sliceReader{chunks: chunks}, nil
	})
}

// chanReader delivers chunks sent on a channel. When honorCancel is set it
// reports transport.ErrAborted once its context is done.
type chanReader struct {
	ctx         context.Context
	chunks      chan string
	honorCancel bool
	closed      chan struct{}
	closeOnce   sync.Once
}

func newChanReader(ctx context.Context, honorCancel bool) *chanReader {
	return &chanReader{
		ctx:         ctx,
		chunks:      make(chan string, 16),
		honorCancel: honorCancel,
		closed:      make(chan struct{}),
	}
}

func (r *chanReader) Read() (string, error) {
	if r.honorCancel {
		select {
		case <-r.ctx.Done():
			return "", transport.ErrAborted
		case c, ok := <-r.chunks:
			if !ok {
				return "", io.EOF
			}
			return c, nil
		}
	}
	c, ok := <-r.chunks
	if !ok {
		return "", io.EOF
	}
	return c, nil
}

func (r *chanReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

// chanOpener hands out one chanReader per Open call on readers.
func chanOpener(honorCancel bool, readers chan<- *chanReader) Opener {
	return OpenerFunc(func(ctx context.Context, _ *transport.Request) (TextReader, error) {
		r := newChanReader(ctx, honorCancel)
		readers <- r
		return r, nil
	})
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
	var zero T
	return zero
}

func waitSession(t *testing.T, s *Session) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	if err == context.DeadlineExceeded {
		t.Fatal("Wait() timed out")
	}
	return res, err
}
