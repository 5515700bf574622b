// Package memory is an in-process storage.Provider.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/tripstream/internal/storage"
)

var _ storage.Provider = (*Store)(nil)

// Store keeps sessions and frame logs in maps.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*storage.SessionRecord
	frames   map[string][]*storage.StoredFrame
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*storage.SessionRecord),
		frames:   make(map[string][]*storage.StoredFrame),
	}
}

func (s *Store) SaveResult(ctx context.Context, rec *storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := *rec
	if prev, ok := s.sessions[rec.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.sessions[rec.ID] = &stored
	rec.CreatedAt, rec.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (s *Store) GetResult(ctx context.Context, id string) (*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListResults(ctx context.Context, opts storage.ListOptions) ([]*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out := *rec
		result = append(result, &out)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	start := opts.Offset
	if start >= len(result) {
		return []*storage.SessionRecord{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) AppendFrame(ctx context.Context, frame *storage.StoredFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.frames[frame.SessionID]
	if n := len(log); n > 0 && log[n-1].Index >= frame.Index {
		return fmt.Errorf("frame %d for session %s is out of order", frame.Index, frame.SessionID)
	}
	stored := *frame
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.frames[frame.SessionID] = append(log, &stored)
	return nil
}

func (s *Store) ListFrames(ctx context.Context, sessionID string) ([]*storage.StoredFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.frames[sessionID]
	if !ok {
		return nil, fmt.Errorf("frames for session %s: %w", sessionID, storage.ErrNotFound)
	}
	out := make([]*storage.StoredFrame, len(log))
	for i, f := range log {
		c := *f
		out[i] = &c
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
