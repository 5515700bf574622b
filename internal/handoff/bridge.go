// Package handoff forwards a completed session's frozen result to the
// persistence store and the caller's completion callback, exactly once.
package handoff

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tjfontaine/tripstream/internal/result"
	"github.com/tjfontaine/tripstream/internal/storage"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithStore persists the handed off result.
func WithStore(store storage.ResultStore) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

// WithCallback sets the completion callback.
func WithCallback(fn func(result.Result)) Option {
	return func(b *Bridge) {
		b.callback = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithSessionContext records the user message and metadata the session was
// started with alongside the result.
func WithSessionContext(userMessage string, metadata map[string]string) Option {
	return func(b *Bridge) {
		b.userMessage = userMessage
		b.metadata = metadata
	}
}

// Bridge hands off one session.
type Bridge struct {
	sessionID   string
	userMessage string
	metadata    map[string]string
	store       storage.ResultStore
	callback    func(result.Result)
	logger      *slog.Logger

	mu   sync.Mutex
	done bool
}

// New creates a bridge for sessionID.
func New(sessionID string, opts ...Option) *Bridge {
	b := &Bridge{
		sessionID: sessionID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handoff persists res and invokes the callback. Only the first call has any
// effect; later calls are logged and report false. A persistence failure is
// logged and does not prevent the callback.
func (b *Bridge) Handoff(ctx context.Context, res result.Result) bool {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		b.logger.Warn("duplicate completion ignored", slog.String("session_id", b.sessionID))
		return false
	}
	b.done = true
	b.mu.Unlock()

	if b.store != nil {
		rec := &storage.SessionRecord{
			ID:          b.sessionID,
			Status:      "completed",
			UserMessage: b.userMessage,
			Metadata:    b.metadata,
			Result:      res,
		}
		if err := b.store.SaveResult(ctx, rec); err != nil {
			b.logger.Error("failed to persist session result",
				slog.String("session_id", b.sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if b.callback != nil {
		b.callback(res)
	}

	b.logger.Info("session handed off",
		slog.String("session_id", b.sessionID),
		slog.Int("keys", len(res)),
	)
	return true
}

// Done reports whether Handoff has run.
func (b *Bridge) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
