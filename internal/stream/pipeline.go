// Package stream turns a recommendation event stream into a live aggregate
// result and progress state.
//
// A Pipeline owns at most one live Session. Connect supersedes any previous
// session: the old one is cancelled and every mutation path checks session
// identity, so frames still in flight for a superseded session are dropped
// instead of touching the new session's state.
//
// Frames are processed one at a time on the session's read goroutine.
// Progress and result observers run synchronously on that goroutine and must
// not call Cancel or Connect on the same pipeline.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/tripstream/internal/envelope"
	"github.com/tjfontaine/tripstream/internal/progress"
	"github.com/tjfontaine/tripstream/internal/result"
	"github.com/tjfontaine/tripstream/internal/sse"
	"github.com/tjfontaine/tripstream/internal/storage"
	"github.com/tjfontaine/tripstream/internal/transport"
)

const tracerName = "github.com/tjfontaine/tripstream/internal/stream"

type (
	// ProgressState is the observable progress of the live session.
	ProgressState = progress.State

	// Result is a snapshot of the aggregate result.
	Result = result.Result
)

// SessionContext is caller supplied context carried by a session and stored
// with its handed off result.
type SessionContext struct {
	UserMessage string            `json:"user_message,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrCancelled is returned by Session.Wait for a cancelled session.
var ErrCancelled = errors.New("session cancelled")

// DomainError is an error reported by the backend in an error envelope.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Pipeline ingests recommendation streams.
type Pipeline struct {
	opener     Opener
	results    storage.ResultStore
	frames     storage.FrameLog
	logger     *slog.Logger
	tracer     trace.Tracer
	onComplete func(Result)
	onError    func(string)

	mu         sync.RWMutex
	current    *Session
	progressFn []func(ProgressState)
	resultFn   []func(Result)
}

// New creates a pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.opener == nil {
		p.opener = ClientOpener(transport.NewClient(transport.WithLogger(p.logger)))
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// OnProgress registers fn to receive the live session's progress after every
// change.
func (p *Pipeline) OnProgress(fn func(ProgressState)) {
	p.mu.Lock()
	p.progressFn = append(p.progressFn, fn)
	p.mu.Unlock()
}

// OnResult registers fn to receive a snapshot of the live session's result
// after every merge.
func (p *Pipeline) OnResult(fn func(Result)) {
	p.mu.Lock()
	p.resultFn = append(p.resultFn, fn)
	p.mu.Unlock()
}

// Connect opens a stream to url with body as the JSON request and starts a
// new session reading it. Any previous session is cancelled first. The
// returned error is non-nil only when the stream could not be opened; the
// session has then already ended.
func (p *Pipeline) Connect(ctx context.Context, url string, body any, sc SessionContext) (*Session, error) {
	s := p.begin(ctx, sc)

	rd, err := p.opener.Open(s.ctx, &transport.Request{URL: url, Body: body})
	if err != nil {
		if transport.IsAborted(err) {
			s.Cancel()
			return nil, err
		}
		s.fail(err)
		return nil, err
	}

	go s.run(rd)
	return s, nil
}

// Start is an alias for Connect.
func (p *Pipeline) Start(ctx context.Context, url string, body any, sc SessionContext) (*Session, error) {
	return p.Connect(ctx, url, body, sc)
}

// Replay runs a captured frame log through a new session without any
// transport, superseding the live session. It returns once every frame has
// been dispatched.
func (p *Pipeline) Replay(ctx context.Context, payloads []string, sc SessionContext) *Session {
	s := p.begin(ctx, sc)
	s.replay(payloads)
	return s
}

// Cancel ends the live session. When it returns no further change is made
// to the session's result or progress.
func (p *Pipeline) Cancel() {
	if s := p.live(); s != nil {
		s.Cancel()
	}
}

// Stop is an alias for Cancel.
func (p *Pipeline) Stop() {
	p.Cancel()
}

// Session returns the live session, or nil.
func (p *Pipeline) Session() *Session {
	return p.live()
}

// Progress returns the live session's progress. It is the zero state when no
// session was ever started.
func (p *Pipeline) Progress() ProgressState {
	if s := p.live(); s != nil {
		return s.machine.State()
	}
	return ProgressState{}
}

// Result returns a snapshot of the live session's aggregate result.
func (p *Pipeline) Result() Result {
	if s := p.live(); s != nil {
		return s.store.Snapshot()
	}
	return Result{}
}

// PartPreview returns a best effort decoding of a part that is still being
// reassembled.
func (p *Pipeline) PartPreview(part envelope.Part) (map[string]any, bool) {
	if s := p.live(); s != nil {
		return s.buffers.Preview(part)
	}
	return nil, false
}

func (p *Pipeline) begin(ctx context.Context, sc SessionContext) *Session {
	s := newSession(ctx, p, sc)

	p.mu.Lock()
	prev := p.current
	p.current = s
	p.mu.Unlock()

	if prev != nil {
		p.logger.Info("session superseded",
			slog.String("session_id", prev.id),
			slog.String("by", s.id),
		)
		prev.Cancel()
	}

	p.logger.Info("session started", slog.String("session_id", s.id))
	p.emitProgress(s, s.machine.State())
	return s
}

func (p *Pipeline) live() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Pipeline) isCurrent(s *Session) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current == s
}

func (p *Pipeline) emitProgress(s *Session, st ProgressState) {
	p.mu.RLock()
	if p.current != s {
		p.mu.RUnlock()
		return
	}
	fns := p.progressFn
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (p *Pipeline) emitResult(s *Session, r Result) {
	p.mu.RLock()
	if p.current != s {
		p.mu.RUnlock()
		return
	}
	fns := p.resultFn
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(r)
	}
}

// frameRecorder returns a function that appends frames to the frame log, or
// nil when no log is configured.
func (p *Pipeline) frameRecorder(s *Session) func(sse.Frame) {
	if p.frames == nil {
		return nil
	}
	ctx := context.WithoutCancel(s.ctx)
	return func(f sse.Frame) {
		err := p.frames.AppendFrame(ctx, &storage.StoredFrame{
			SessionID: s.id,
			Index:     f.Index,
			Payload:   f.Payload,
		})
		if err != nil {
			p.logger.Warn("failed to record frame",
				slog.String("session_id", s.id),
				slog.Int("index", f.Index),
				slog.String("error", err.Error()),
			)
		}
	}
}
