package transport

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns a sequence of byte chunks into text. A multi-byte sequence
// split across chunks is held back until the rest of it arrives, so chunk
// boundaries never have to line up with character boundaries. Invalid bytes
// decode to U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder returns a UTF-8 decoder with no pending input.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode appends p to any pending partial sequence and returns the text that
// can be decoded so far. When final is set the pending bytes are flushed.
func (d *Decoder) Decode(p []byte, final bool) (string, error) {
	src := make([]byte, 0, len(d.pending)+len(p))
	src = append(src, d.pending...)
	src = append(src, p...)
	d.pending = d.pending[:0]

	var out strings.Builder
	// Every invalid byte may expand to a three byte replacement rune.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, final)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
			if final {
				d.t.Reset()
			}
			return out.String(), nil
		case transform.ErrShortSrc:
			d.pending = append(d.pending, src...)
			return out.String(), nil
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		default:
			return out.String(), fmt.Errorf("decode utf-8: %w", err)
		}
	}
}

// Pending reports how many bytes are held back awaiting completion.
func (d *Decoder) Pending() int {
	return len(d.pending)
}
