// Package reassembly rebuilds JSON objects from text fragments that arrive
// split at arbitrary points.
//
// Each part owns a buffer and a scanner that tracks brace depth outside of
// string literals, so a brace inside "a } note" never ends an object. When
// the scanner sees depth return to zero the text up to that point is offered
// to the JSON decoder. Only text that decoded successfully is removed from
// the buffer; everything else stays verbatim for the next fragment.
package reassembly

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/tjfontaine/tripstream/internal/envelope"
)

// Object is one reassembled JSON object.
type Object = map[string]any

type partBuffer struct {
	buf []byte

	// scanner state, valid for buf[:pos]
	pos      int
	depth    int
	inString bool
	escaped  bool

	// stalled is set once a balanced candidate failed to decode, and cleared
	// when text is consumed again.
	stalled bool
}

// scan advances over unscanned bytes and returns the offsets just past each
// closing brace that brings depth back to zero.
func (p *partBuffer) scan() []int {
	var ends []int
	for ; p.pos < len(p.buf); p.pos++ {
		c := p.buf[p.pos]
		if p.inString {
			switch {
			case p.escaped:
				p.escaped = false
			case c == '\\':
				p.escaped = true
			case c == '"':
				p.inString = false
			}
			continue
		}
		switch c {
		case '"':
			if p.depth > 0 {
				p.inString = true
			}
		case '{':
			p.depth++
		case '}':
			if p.depth == 0 {
				continue
			}
			p.depth--
			if p.depth == 0 {
				ends = append(ends, p.pos+1)
			}
		}
	}
	return ends
}

func (p *partBuffer) consume(n int) {
	rest := make([]byte, len(p.buf)-n)
	copy(rest, p.buf[n:])
	p.buf = rest
	p.pos -= n
}

// Buffers holds one buffer per part for a single session. It is safe for
// concurrent use so previews can be taken while fragments arrive.
type Buffers struct {
	mu     sync.Mutex
	parts  map[envelope.Part]*partBuffer
	logger *slog.Logger
}

// New returns empty buffers. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Buffers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffers{
		parts:  make(map[envelope.Part]*partBuffer),
		logger: logger,
	}
}

// Append adds fragment to the part's buffer and returns every object that
// is now complete, in order. An empty result means more text is needed.
func (b *Buffers) Append(part envelope.Part, fragment string) []Object {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.parts[part]
	if p == nil {
		p = &partBuffer{}
		b.parts[part] = p
	}
	p.buf = append(p.buf, fragment...)

	var (
		out      []Object
		consumed int
	)
	for _, end := range p.scan() {
		var obj Object
		if err := json.Unmarshal(p.buf[consumed:end], &obj); err != nil {
			level := slog.LevelDebug
			if !p.stalled {
				// Later objects of this part stay buffered behind this text.
				level = slog.LevelWarn
				p.stalled = true
			}
			b.logger.Log(context.Background(), level, "balanced part text did not decode, retaining",
				slog.String("part", string(part)),
				slog.Int("buffered", len(p.buf)),
				slog.String("error", err.Error()),
			)
			break
		}
		p.stalled = false
		out = append(out, obj)
		consumed = end
	}
	if consumed > 0 {
		p.consume(consumed)
	}
	return out
}

// Remainder returns the part's unconsumed text.
func (b *Buffers) Remainder(part envelope.Part) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p := b.parts[part]; p != nil {
		return string(p.buf)
	}
	return ""
}

// Pending returns the parts that currently hold unconsumed text.
func (b *Buffers) Pending() []envelope.Part {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []envelope.Part
	for _, part := range envelope.Parts() {
		if p := b.parts[part]; p != nil && strings.TrimSpace(string(p.buf)) != "" {
			out = append(out, part)
		}
	}
	return out
}

// Preview returns a best effort decoding of the part's incomplete text with
// missing closers repaired. The buffer itself is left untouched.
func (b *Buffers) Preview(part envelope.Part) (Object, bool) {
	text := strings.TrimSpace(b.Remainder(part))
	if text == "" {
		return nil, false
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, false
	}
	var obj Object
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
