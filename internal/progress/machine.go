// Package progress tracks the lifecycle and user facing progress of a
// stream session.
package progress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tjfontaine/tripstream/internal/envelope"
)

// Status is the session lifecycle state.
type Status int

const (
	StatusConnecting Status = iota // Request issued, nothing read yet.
	StatusStreaming                // At least one chunk read.
	StatusCompleted                // complete envelope applied.
	StatusErrored                  // Transport or server error.
	StatusCancelled                // Cancelled by the caller.
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether s is absorbing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored || s == StatusCancelled
}

var (
	// ErrTerminal is returned for any change requested after a terminal state.
	ErrTerminal = errors.New("session already terminated")

	errInvalidTransition = errors.New("invalid transition")
)

// Step labels and the percent each stage reports.
const (
	StepConnecting = "Connecting…"
	StepStarting   = "Starting…"
	StepComplete   = "Complete"

	PercentStart    = 10
	PercentComplete = 100
)

var partSteps = map[envelope.Part]struct {
	label   string
	percent float64
}{
	envelope.PartCityData:    {"Loading city information…", 20},
	envelope.PartGeneralPOIs: {"Finding points of interest…", 35},
	envelope.PartItinerary:   {"Building your itinerary…", 50},
	envelope.PartHotels:      {"Finding hotels…", 65},
	envelope.PartRestaurants: {"Finding restaurants…", 80},
	envelope.PartActivities:  {"Finding activities…", 90},
}

// ForPart returns the step label and percent reported when part arrives.
func ForPart(part envelope.Part) (string, float64) {
	s, ok := partSteps[part]
	if !ok {
		return "", 0
	}
	return s.label, s.percent
}

// State is the observable progress of a session.
type State struct {
	Status      Status  `json:"-"`
	Percent     float64 `json:"percent"`
	Step        string  `json:"step"`
	IsStreaming bool    `json:"is_streaming"`
	IsComplete  bool    `json:"is_complete"`
	Error       string  `json:"error,omitempty"`
}

// Machine is the lifecycle state machine:
//
//	connecting -> streaming -> completed | errored | cancelled
//
// connecting may also move straight to errored or cancelled. Terminal states
// reject every further change.
type Machine struct {
	mu        sync.RWMutex
	state     State
	observers []func(State)
}

// NewMachine returns a machine in the connecting state.
func NewMachine() *Machine {
	return &Machine{state: State{
		Status:      StatusConnecting,
		Step:        StepConnecting,
		IsStreaming: true,
	}}
}

// Subscribe registers fn to receive the state after every change. fn runs
// synchronously on the changing goroutine.
func (m *Machine) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the current lifecycle status.
func (m *Machine) Status() Status {
	return m.State().Status
}

// Streaming records that data is flowing. It is a no-op when already streaming.
func (m *Machine) Streaming() error {
	return m.change(func(s *State) error {
		switch s.Status {
		case StatusStreaming:
			return nil
		case StatusConnecting:
			s.Status = StatusStreaming
			return nil
		}
		return errInvalidTransition
	})
}

// Start applies the start envelope.
func (m *Machine) Start() error {
	return m.Update(ptr(PercentStart), StepStarting)
}

// Update sets the percent and step. A nil percent or empty step leaves that
// field unchanged. Percent is clamped to 0..100 but may go backwards.
func (m *Machine) Update(percent *float64, step string) error {
	return m.change(func(s *State) error {
		if percent != nil {
			s.Percent = clamp(*percent)
		}
		if step != "" {
			s.Step = step
		}
		return nil
	})
}

// Complete moves streaming to completed.
func (m *Machine) Complete() error {
	return m.change(func(s *State) error {
		if s.Status != StatusStreaming {
			return errInvalidTransition
		}
		s.Status = StatusCompleted
		s.Percent = PercentComplete
		s.Step = StepComplete
		s.IsComplete = true
		s.IsStreaming = false
		return nil
	})
}

// Fail moves the session to errored with message.
func (m *Machine) Fail(message string) error {
	return m.change(func(s *State) error {
		s.Status = StatusErrored
		s.Error = message
		s.IsStreaming = false
		return nil
	})
}

// Cancel moves the session to cancelled.
func (m *Machine) Cancel() error {
	return m.change(func(s *State) error {
		s.Status = StatusCancelled
		s.IsStreaming = false
		return nil
	})
}

func (m *Machine) change(fn func(*State) error) error {
	m.mu.Lock()
	if m.state.Status.Terminal() {
		m.mu.Unlock()
		return ErrTerminal
	}
	next := m.state
	if err := fn(&next); err != nil {
		from := m.state.Status
		m.mu.Unlock()
		return fmt.Errorf("%w from %s", err, from)
	}
	changed := next != m.state
	m.state = next
	observers := m.observers
	m.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(next)
		}
	}
	return nil
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func ptr(f float64) *float64 {
	return &f
}
