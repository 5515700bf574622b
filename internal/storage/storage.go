// Package storage defines persistence for finished sessions and the frame
// logs used to replay them.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/tripstream/internal/result"
)

// ErrNotFound is returned when a session or its frames do not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is a handed off session: its frozen result plus the context
// it was started with.
type SessionRecord struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	UserMessage string            `json:"user_message,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Result      result.Result     `json:"result"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// StoredFrame is one frame of a session's log.
type StoredFrame struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions pages through stored sessions, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// ResultStore persists handed off sessions so another page or process can
// pick them up.
type ResultStore interface {
	SaveResult(ctx context.Context, rec *SessionRecord) error
	GetResult(ctx context.Context, id string) (*SessionRecord, error)
	ListResults(ctx context.Context, opts ListOptions) ([]*SessionRecord, error)
}

// FrameLog records frames in arrival order.
type FrameLog interface {
	AppendFrame(ctx context.Context, frame *StoredFrame) error
	ListFrames(ctx context.Context, sessionID string) ([]*StoredFrame, error)
}

// Provider is a backend implementing both stores.
type Provider interface {
	ResultStore
	FrameLog
	Close() error
}
