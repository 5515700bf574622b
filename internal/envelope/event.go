// Package envelope parses frame payloads into typed stream events.
//
// The backend wraps every frame in {"type": ..., "data": {...}}. The shape of
// data depends on type, so each type decodes into its own Event struct and
// consumers switch exhaustively over the concrete types.
package envelope

import "encoding/json"

// Type is the envelope discriminant.
type Type string

const (
	TypeStart    Type = "start"
	TypeProgress Type = "progress"
	TypeChunk    Type = "chunk"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Part names a section of the aggregate result that may arrive in fragments.
// The same names double as the domain event types.
type Part string

const (
	PartCityData    Part = "city_data"
	PartGeneralPOIs Part = "general_pois"
	PartItinerary   Part = "itinerary"
	PartHotels      Part = "hotels"
	PartRestaurants Part = "restaurants"
	PartActivities  Part = "activities"
)

var parts = []Part{
	PartCityData,
	PartGeneralPOIs,
	PartItinerary,
	PartHotels,
	PartRestaurants,
	PartActivities,
}

// Parts returns the recognized part names in pipeline order.
func Parts() []Part {
	out := make([]Part, len(parts))
	copy(out, parts)
	return out
}

// LookupPart reports whether name is a recognized part.
func LookupPart(name string) (Part, bool) {
	for _, p := range parts {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// Event is a parsed frame. The unexported marker keeps the set closed.
type Event interface {
	event()
}

// Start opens the stream.
type Start struct {
	Data map[string]any
}

// Progress reports backend progress. Percent is nil when the frame carried
// no usable number.
type Progress struct {
	Percent *float64
	Message string
}

// Chunk carries one text fragment of a part. Part is kept as the raw name
// because unrecognized names are still meaningful to the dispatcher.
type Chunk struct {
	Part     string
	Fragment string
}

// Domain carries a whole value for one part.
type Domain struct {
	Part Part
	Data any
}

// Complete ends the stream successfully. Data holds any final top level
// result keys.
type Complete struct {
	Data map[string]any
}

// Failure is a server reported error. It ends the session.
type Failure struct {
	Message string
}

// Unknown is a well formed envelope with an unrecognized type.
type Unknown struct {
	Type string
	Data json.RawMessage
}

// Text is a payload that was not an envelope at all.
type Text struct {
	Text string
}

func (Start) event()    {}
func (Progress) event() {}
func (Chunk) event()    {}
func (Domain) event()   {}
func (Complete) event() {}
func (Failure) event()  {}
func (Unknown) event()  {}
func (Text) event()     {}

var (
	_ Event = Start{}
	_ Event = Progress{}
	_ Event = Chunk{}
	_ Event = Domain{}
	_ Event = Complete{}
	_ Event = Failure{}
	_ Event = Unknown{}
	_ Event = Text{}
)
