// Package sse splits a decoded response body into SSE data frames.
package sse

import (
	"strings"
)

// DataPrefix marks a line that carries a frame payload.
const DataPrefix = "data: "

// Frame is one extracted data payload.
type Frame struct {
	// Index is the arrival position of the frame within its stream, from 0.
	Index int `json:"index"`

	// Payload is the text after the data prefix.
	Payload string `json:"payload"`
}

// Extractor accumulates text and emits a frame for every complete
// "data: " line, in arrival order. Other lines are ignored.
type Extractor struct {
	buf     strings.Builder
	next    int
	skipped int
}

// NewExtractor returns an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Feed appends text and returns the frames completed by it. Text after the
// last newline is held until a later Feed or Flush.
func (e *Extractor) Feed(text string) []Frame {
	if !strings.Contains(text, "\n") {
		e.buf.WriteString(text)
		return nil
	}

	e.buf.WriteString(text)
	pending := e.buf.String()
	cut := strings.LastIndexByte(pending, '\n')
	complete, rest := pending[:cut], pending[cut+1:]

	e.buf.Reset()
	e.buf.WriteString(rest)

	var frames []Frame
	for _, line := range strings.Split(complete, "\n") {
		if f, ok := e.line(line); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// Flush treats any buffered unterminated text as a final line.
func (e *Extractor) Flush() []Frame {
	rest := e.buf.String()
	e.buf.Reset()
	if f, ok := e.line(rest); ok {
		return []Frame{f}
	}
	return nil
}

// Skipped reports the number of non-empty lines that were not data lines.
func (e *Extractor) Skipped() int {
	return e.skipped
}

func (e *Extractor) line(raw string) (Frame, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Frame{}, false
	}
	if !strings.HasPrefix(line, DataPrefix) {
		e.skipped++
		return Frame{}, false
	}
	f := Frame{Index: e.next, Payload: strings.TrimPrefix(line, DataPrefix)}
	e.next++
	return f, true
}
