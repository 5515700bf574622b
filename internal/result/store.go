// Package result holds the progressively merged aggregate of a stream.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/copystructure"
)

// Well known keys. Domain parts use their part name as key.
const (
	KeyText = "text"
	KeyPOIs = "pois"
)

// ErrFrozen is returned by mutations after Freeze.
var ErrFrozen = errors.New("result is frozen")

// Result is a point in time copy of the aggregate. Values are decoded JSON:
// map[string]any, []any, string, float64, bool or nil.
type Result map[string]any

// Text returns the accumulated free text output.
func (r Result) Text() string {
	s, _ := r[KeyText].(string)
	return s
}

// Decode converts the value under key into v through its JSON form.
func (r Result) Decode(key string, v any) error {
	val, ok := r[key]
	if !ok {
		return fmt.Errorf("result key %q not set", key)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Store is the mutable aggregate for one session. Keys are never removed;
// list values grow by name identity and everything else is last write wins.
type Store struct {
	mu        sync.RWMutex
	values    map[string]any
	frozen    bool
	observers []func(Result)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Subscribe registers fn to receive a snapshot after every mutation. fn runs
// synchronously on the mutating goroutine.
func (s *Store) Subscribe(fn func(Result)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Merge applies value under key. A list value is appended to an existing
// list, replacing items whose "name" matches and skipping exact duplicates.
// Any other value replaces what was there.
func (s *Store) Merge(key string, value any) error {
	return s.mutate(func(values map[string]any) {
		list, isList := value.([]any)
		if !isList {
			values[key] = value
			return
		}
		existing, _ := values[key].([]any)
		values[key] = mergeList(existing, list)
	})
}

// MergeAll merges each top level field of obj as one mutation.
func (s *Store) MergeAll(obj map[string]any) error {
	if len(obj) == 0 {
		return nil
	}
	return s.mutate(func(values map[string]any) {
		for k, v := range obj {
			if list, ok := v.([]any); ok {
				existing, _ := values[k].([]any)
				values[k] = mergeList(existing, list)
				continue
			}
			values[k] = v
		}
	})
}

// AppendText appends to the free text output.
func (s *Store) AppendText(text string) error {
	if text == "" {
		return nil
	}
	return s.mutate(func(values map[string]any) {
		prev, _ := values[KeyText].(string)
		values[KeyText] = prev + text
	})
}

// Freeze stops further mutation and returns the final snapshot.
func (s *Store) Freeze() Result {
	s.mu.Lock()
	s.frozen = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return snap
}

// Frozen reports whether Freeze has been called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Snapshot returns a deep copy of the aggregate.
func (s *Store) Snapshot() Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) mutate(fn func(map[string]any)) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrFrozen
	}
	fn(s.values)
	var snap Result
	observers := s.observers
	if len(observers) > 0 {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return nil
}

func (s *Store) snapshotLocked() Result {
	out := make(Result, len(s.values))
	for k, v := range s.values {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return copystructure.Must(copystructure.Copy(v))
	}
	return v
}

func mergeList(existing, incoming []any) []any {
	out := make([]any, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	for _, item := range incoming {
		if name, ok := itemName(item); ok {
			if i := indexByName(out, name); i >= 0 {
				out[i] = item
				continue
			}
			out = append(out, item)
			continue
		}
		if !containsEqual(out, item) {
			out = append(out, item)
		}
	}
	return out
}

func itemName(item any) (string, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := m["name"].(string)
	return name, ok && name != ""
}

func indexByName(items []any, name string) int {
	for i, it := range items {
		if n, ok := itemName(it); ok && n == name {
			return i
		}
	}
	return -1
}

func containsEqual(items []any, item any) bool {
	for _, it := range items {
		if cmp.Equal(it, item) {
			return true
		}
	}
	return false
}
