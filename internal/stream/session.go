package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/tripstream/internal/envelope"
	"github.com/tjfontaine/tripstream/internal/handoff"
	"github.com/tjfontaine/tripstream/internal/progress"
	"github.com/tjfontaine/tripstream/internal/reassembly"
	"github.com/tjfontaine/tripstream/internal/result"
	"github.com/tjfontaine/tripstream/internal/sse"
	"github.com/tjfontaine/tripstream/internal/transport"
)

// Session is one stream from connect to a terminal state. Its buffers and
// result belong to it alone.
type Session struct {
	id        string
	sctx      SessionContext
	startedAt time.Time

	p      *Pipeline
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	logger *slog.Logger

	machine   *progress.Machine
	store     *result.Store
	buffers   *reassembly.Buffers
	bridge    *handoff.Bridge
	extractor *sse.Extractor
	record    func(sse.Frame)

	// mu serializes frame dispatch against Cancel. closed is set once the
	// session reaches a terminal state; done is closed after any callbacks
	// queued by that transition have run.
	mu       sync.Mutex
	closed   bool
	released bool
	after    []func()
	frames   int
	errFired bool

	done  chan struct{}
	final Result
	err   error
}

func newSession(parent context.Context, p *Pipeline, sc SessionContext) *Session {
	id := uuid.NewString()
	logger := p.logger.With(slog.String("session_id", id))

	ctx, span := p.tracer.Start(parent, "tripstream.session",
		trace.WithAttributes(attribute.String("tripstream.session.id", id)),
	)
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:        id,
		sctx:      sc,
		startedAt: time.Now(),
		p:         p,
		ctx:       ctx,
		cancel:    cancel,
		span:      span,
		logger:    logger,
		machine:   progress.NewMachine(),
		store:     result.NewStore(),
		buffers:   reassembly.New(logger),
		extractor: sse.NewExtractor(),
		done:      make(chan struct{}),
	}

	bridgeOpts := []handoff.Option{
		handoff.WithLogger(logger),
		handoff.WithSessionContext(sc.UserMessage, sc.Metadata),
	}
	if p.results != nil {
		bridgeOpts = append(bridgeOpts, handoff.WithStore(p.results))
	}
	if p.onComplete != nil {
		bridgeOpts = append(bridgeOpts, handoff.WithCallback(p.onComplete))
	}
	s.bridge = handoff.New(id, bridgeOpts...)
	s.record = p.frameRecorder(s)

	s.machine.Subscribe(func(st progress.State) { p.emitProgress(s, st) })
	s.store.Subscribe(func(r result.Result) { p.emitResult(s, r) })

	return s
}

// ID returns the session identity token.
func (s *Session) ID() string { return s.id }

// Context returns the caller context the session was started with.
func (s *Session) Context() SessionContext { return s.sctx }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Progress returns the session's progress.
func (s *Session) Progress() ProgressState { return s.machine.State() }

// Result returns a snapshot of the session's aggregate result.
func (s *Session) Result() Result { return s.store.Snapshot() }

// Wait blocks until the session ends or ctx is done. A completed session
// returns its frozen result. Otherwise the partial result is returned with
// the terminal error: ErrCancelled, a *DomainError or a *transport.Error.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.final, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel ends the session as cancelled, whether or not it is still the
// pipeline's live session. It is a no-op once the session has ended. When
// Cancel returns no further mutation happens.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.closed {
		if err := s.machine.Cancel(); err != nil {
			s.logger.Debug("cancel rejected", slog.String("error", err.Error()))
		}
		s.finish(ErrCancelled)
		s.released = true
		close(s.done)
	}
	s.mu.Unlock()
	s.cancel()
}

// guard runs fn while s is live: not terminal and not superseded. Callbacks
// queued by fn run after the lock is released.
func (s *Session) guard(fn func()) bool {
	s.mu.Lock()
	if s.closed || !s.p.isCurrent(s) {
		s.mu.Unlock()
		return false
	}
	fn()
	after := s.after
	s.after = nil
	release := s.closed && !s.released
	if release {
		s.released = true
	}
	s.mu.Unlock()

	for _, f := range after {
		f()
	}
	if release {
		close(s.done)
	}
	return true
}

// finish moves s to its terminal state. Callers hold s.mu.
func (s *Session) finish(err error) {
	s.closed = true
	s.err = err
	if err != nil {
		s.final = s.store.Snapshot()
	}

	status := s.machine.Status()
	s.span.SetAttributes(
		attribute.Int("tripstream.session.frames", s.frames),
		attribute.String("tripstream.session.status", status.String()),
	)
	if err != nil && !errors.Is(err, ErrCancelled) {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()

	s.logger.Info("session ended",
		slog.String("status", status.String()),
		slog.Int("frames", s.frames),
		slog.Duration("elapsed", time.Since(s.startedAt)),
	)

	s.cancel()
}

// fail ends the session as errored and queues the error callback.
func (s *Session) fail(err error) {
	ok := s.guard(func() {
		s.failLocked(err)
	})
	if !ok {
		s.logger.Debug("failure after session end dropped", slog.String("error", err.Error()))
	}
}

func (s *Session) failLocked(err error) {
	msg := err.Error()
	if ferr := s.machine.Fail(msg); ferr != nil {
		s.logger.Debug("fail rejected", slog.String("error", ferr.Error()))
	}
	s.logger.Warn("session failed", slog.String("error", msg))
	s.finish(err)

	if s.p.onError != nil && !s.errFired {
		s.errFired = true
		fn := s.p.onError
		s.after = append(s.after, func() { fn(msg) })
	}
}

func (s *Session) run(rd TextReader) {
	defer rd.Close()

	for {
		text, err := rd.Read()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.dispatchAll(s.extractor.Flush())
			s.endOfStream()
			return
		case transport.IsAborted(err):
			s.Cancel()
			return
		default:
			s.fail(err)
			return
		}

		live := s.guard(func() {
			if err := s.machine.Streaming(); err != nil {
				s.logger.Debug("streaming transition rejected", slog.String("error", err.Error()))
			}
		})
		if !live {
			return
		}
		if !s.dispatchAll(s.extractor.Feed(text)) {
			return
		}
	}
}

func (s *Session) replay(payloads []string) {
	if !s.guard(func() { _ = s.machine.Streaming() }) {
		return
	}
	for i, payload := range payloads {
		if s.ctx.Err() != nil {
			s.Cancel()
			return
		}
		s.dispatch(sse.Frame{Index: i, Payload: payload})
	}
	s.endOfStream()
}

// dispatchAll dispatches frames in order and reports whether the session is
// still live afterwards.
func (s *Session) dispatchAll(frames []sse.Frame) bool {
	live := true
	for _, f := range frames {
		live = s.dispatch(f)
	}
	return live
}

func (s *Session) endOfStream() {
	s.guard(func() {
		if pending := s.buffers.Pending(); len(pending) > 0 {
			s.logger.Warn("stream ended with incomplete parts", slog.Any("parts", pending))
		}
		s.failLocked(&transport.Error{Reason: "stream ended before completion"})
	})
}

func (s *Session) dispatch(f sse.Frame) bool {
	ev, perr := envelope.Parse(f.Payload)

	applied := s.guard(func() {
		s.frames++
		if s.record != nil {
			s.record(f)
		}
		if perr != nil {
			s.logger.Warn("frame is not an envelope, treating as text",
				slog.Int("index", f.Index),
				slog.String("error", perr.Error()),
			)
		}
		s.apply(ev)
	})
	if applied {
		return true
	}

	if _, ok := ev.(envelope.Complete); ok && s.bridge.Done() {
		s.bridge.Handoff(s.ctx, nil)
		return false
	}
	s.logger.Debug("frame dropped for ended session", slog.Int("index", f.Index))
	return false
}
