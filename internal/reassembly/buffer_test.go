package reassembly

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/tripstream/internal/envelope"
)

func TestBuffers_SplitObjectAcrossFragments(t *testing.T) {
	b := New(nil)

	if got := b.Append(envelope.PartGeneralPOIs, `{"pois":[{"name":"A`); len(got) != 0 {
		t.Fatalf("Append(fragment1) = %v, want nothing", got)
	}
	if rem := b.Remainder(envelope.PartGeneralPOIs); rem != `{"pois":[{"name":"A` {
		t.Errorf("Remainder() = %q", rem)
	}

	got := b.Append(envelope.PartGeneralPOIs, `"}]}`)
	want := []Object{{"pois": []any{map[string]any{"name": "A"}}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Append(fragment2) mismatch (-want +got):\n%s", diff)
	}
	if rem := b.Remainder(envelope.PartGeneralPOIs); rem != "" {
		t.Errorf("Remainder() = %q, want empty", rem)
	}
}

func TestBuffers_BracesInsideStrings(t *testing.T) {
	b := New(nil)

	// A naive last-closing-brace probe would try to decode after "a }".
	if got := b.Append(envelope.PartHotels, `{"note":"a } inside`); len(got) != 0 {
		t.Fatalf("Append() = %v, want nothing", got)
	}
	if got := b.Append(envelope.PartHotels, ` text with \"quoted {\" braces"`); len(got) != 0 {
		t.Fatalf("Append() = %v, want nothing", got)
	}
	got := b.Append(envelope.PartHotels, `}`)
	want := []Object{{"note": `a } inside text with "quoted {" braces`}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Append() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuffers_MultipleObjectsAndTrailingRemainder(t *testing.T) {
	b := New(nil)

	got := b.Append(envelope.PartRestaurants, `{"name":"One"} {"name":"Two"}{"name":"Th`)
	want := []Object{{"name": "One"}, {"name": "Two"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Append() mismatch (-want +got):\n%s", diff)
	}
	if rem := b.Remainder(envelope.PartRestaurants); rem != `{"name":"Th` {
		t.Errorf("Remainder() = %q", rem)
	}

	got = b.Append(envelope.PartRestaurants, `ree"}`)
	if diff := cmp.Diff([]Object{{"name": "Three"}}, got); diff != "" {
		t.Errorf("Append() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuffers_UndecodableTextIsRetained(t *testing.T) {
	b := New(nil)

	text := "```json\n{\"name\":\"x\"}"
	if got := b.Append(envelope.PartItinerary, text); len(got) != 0 {
		t.Fatalf("Append() = %v, want nothing", got)
	}
	if rem := b.Remainder(envelope.PartItinerary); rem != text {
		t.Errorf("Remainder() = %q, want %q", rem, text)
	}
}

func TestBuffers_PartsAreIsolated(t *testing.T) {
	b := New(nil)
	b.Append(envelope.PartHotels, `{"name":"H`)
	b.Append(envelope.PartActivities, `not json at all }}}`)

	got := b.Append(envelope.PartHotels, `"}`)
	if diff := cmp.Diff([]Object{{"name": "H"}}, got); diff != "" {
		t.Errorf("Append() mismatch (-want +got):\n%s", diff)
	}
	if rem := b.Remainder(envelope.PartActivities); rem != `not json at all }}}` {
		t.Errorf("activities Remainder() = %q", rem)
	}
}

func TestBuffers_NoDataLoss(t *testing.T) {
	fragments := []string{`{"a":`, `1}{"b"`, `:"}"`, `}  {"c":[`, `{"d":2}`, `]`}

	b := New(nil)
	var consumed strings.Builder
	all := strings.Join(fragments, "")
	var objects int
	for _, f := range fragments {
		before := b.Remainder(envelope.PartCityData) + f
		out := b.Append(envelope.PartCityData, f)
		objects += len(out)
		after := b.Remainder(envelope.PartCityData)
		if !strings.HasSuffix(before, after) {
			t.Fatalf("remainder %q is not a suffix of %q", after, before)
		}
		consumed.WriteString(before[:len(before)-len(after)])
	}
	if consumed.String()+b.Remainder(envelope.PartCityData) != all {
		t.Errorf("consumed+remainder = %q, want %q", consumed.String()+b.Remainder(envelope.PartCityData), all)
	}
	if objects != 2 {
		t.Errorf("objects = %d, want 2", objects)
	}
}

func TestBuffers_SplitInvariance(t *testing.T) {
	text := `{"pois":[{"name":"A {1}"},{"name":"B \"q\""}]} {"pois":[{"name":"C"}]}{"x":`

	whole := New(nil)
	want := whole.Append(envelope.PartGeneralPOIs, text)

	for size := 1; size < len(text); size++ {
		b := New(nil)
		var got []Object
		for i := 0; i < len(text); i += size {
			end := min(i+size, len(text))
			got = append(got, b.Append(envelope.PartGeneralPOIs, text[i:end])...)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("size %d mismatch (-want +got):\n%s", size, diff)
		}
		if b.Remainder(envelope.PartGeneralPOIs) != whole.Remainder(envelope.PartGeneralPOIs) {
			t.Fatalf("size %d remainder = %q", size, b.Remainder(envelope.PartGeneralPOIs))
		}
	}
}

func TestBuffers_Preview(t *testing.T) {
	b := New(nil)
	if _, ok := b.Preview(envelope.PartHotels); ok {
		t.Fatal("Preview() on empty buffer = true")
	}

	b.Append(envelope.PartHotels, `{"hotels":[{"name":"Grand"},{"name":"Pal`)
	obj, ok := b.Preview(envelope.PartHotels)
	if !ok {
		t.Fatal("Preview() = false")
	}
	hotels, _ := obj["hotels"].([]any)
	if len(hotels) != 2 {
		t.Fatalf("preview hotels = %v", obj["hotels"])
	}
	if first, _ := hotels[0].(map[string]any); first["name"] != "Grand" {
		t.Errorf("preview first hotel = %v", hotels[0])
	}
	if rem := b.Remainder(envelope.PartHotels); rem != `{"hotels":[{"name":"Grand"},{"name":"Pal` {
		t.Errorf("Preview() changed remainder to %q", rem)
	}
}

func TestBuffers_Pending(t *testing.T) {
	b := New(nil)
	b.Append(envelope.PartHotels, `{"x":1}`)
	b.Append(envelope.PartItinerary, `{"days":[`)

	if diff := cmp.Diff([]envelope.Part{envelope.PartItinerary}, b.Pending()); diff != "" {
		t.Errorf("Pending() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuffers_StraySeparatorStallsPart(t *testing.T) {
	var logs bytes.Buffer
	b := New(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var got []Object
	for _, f := range []string{`{"name":"A"}`, `,{"name":"B"}`, `{"name":"C"}`} {
		got = append(got, b.Append(envelope.PartRestaurants, f)...)
	}

	if diff := cmp.Diff([]Object{{"name": "A"}}, got); diff != "" {
		t.Errorf("Append() mismatch (-want +got):\n%s", diff)
	}
	if rem := b.Remainder(envelope.PartRestaurants); rem != `,{"name":"B"}{"name":"C"}` {
		t.Errorf("Remainder() = %q", rem)
	}
	if n := strings.Count(logs.String(), `"level":"WARN"`); n != 1 {
		t.Errorf("warn logs = %d, want 1; logs:\n%s", n, logs.String())
	}
	if n := strings.Count(logs.String(), `"level":"DEBUG"`); n == 0 {
		t.Error("later stalls not logged at debug")
	}
}
