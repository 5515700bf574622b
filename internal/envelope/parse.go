package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// ParseError explains why a payload was treated as plain text.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame is not an envelope: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	errInvalidJSON = errors.New("invalid json")
	errNoType      = errors.New("missing string type field")
	errBadData     = errors.New("data is not an object")
)

// Parse decodes a frame payload. It never fails outright: a payload that is
// not an envelope comes back as a Text event together with a *ParseError the
// caller may log.
func Parse(payload string) (Event, error) {
	if !gjson.Valid(payload) {
		return Text{Text: payload}, &ParseError{Payload: payload, Err: errInvalidJSON}
	}

	root := gjson.Parse(payload)
	typ := root.Get("type")
	if !root.IsObject() || typ.Type != gjson.String {
		return Text{Text: payload}, &ParseError{Payload: payload, Err: errNoType}
	}

	data := root.Get("data")
	if data.Exists() && data.Type != gjson.Null && !data.IsObject() {
		return Text{Text: payload}, &ParseError{Payload: payload, Err: errBadData}
	}

	switch t := typ.String(); Type(t) {
	case TypeStart:
		m, err := decodeObject(data)
		if err != nil {
			return Text{Text: payload}, &ParseError{Payload: payload, Err: err}
		}
		return Start{Data: m}, nil

	case TypeProgress:
		return Progress{
			Percent: number(data.Get("progress")),
			Message: data.Get("message").String(),
		}, nil

	case TypeChunk:
		return Chunk{
			Part:     data.Get("part").String(),
			Fragment: data.Get("chunk").String(),
		}, nil

	case TypeComplete:
		m, err := decodeObject(data)
		if err != nil {
			return Text{Text: payload}, &ParseError{Payload: payload, Err: err}
		}
		return Complete{Data: m}, nil

	case TypeError:
		msg := data.Get("message").String()
		if msg == "" {
			msg = "unknown error"
		}
		return Failure{Message: msg}, nil

	default:
		if part, ok := LookupPart(t); ok {
			m, err := decodeObject(data)
			if err != nil {
				return Text{Text: payload}, &ParseError{Payload: payload, Err: err}
			}
			var v any
			if m != nil {
				v = m
			}
			return Domain{Part: part, Data: v}, nil
		}
		return Unknown{Type: t, Data: json.RawMessage(data.Raw)}, nil
	}
}

func decodeObject(r gjson.Result) (map[string]any, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.Raw), &m); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return m, nil
}

func number(r gjson.Result) *float64 {
	switch r.Type {
	case gjson.Number:
		v := r.Float()
		return &v
	case gjson.String:
		v, err := strconv.ParseFloat(r.Str, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	return nil
}
