package sse

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractor_Feed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single frame",
			chunks: []string{"data: {\"type\":\"start\"}\n\n"},
			want:   []string{`{"type":"start"}`},
		},
		{
			name:   "split across chunks",
			chunks: []string{"da", "ta: {\"a\"", ":1}\n", "\ndata: two\n"},
			want:   []string{`{"a":1}`, "two"},
		},
		{
			name:   "crlf and surrounding whitespace",
			chunks: []string{"  data: padded  \r\n\r\n"},
			want:   []string{"padded"},
		},
		{
			name:   "non data lines ignored",
			chunks: []string{": keepalive\nevent: progress\nid: 7\ndata: kept\n"},
			want:   []string{"kept"},
		},
		{
			name:   "prefix without space is not a frame",
			chunks: []string{"data:nospace\n"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor()
			var got []string
			for _, c := range tt.chunks {
				for _, f := range e.Feed(c) {
					got = append(got, f.Payload)
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("payloads mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractor_IndexesAreMonotonic(t *testing.T) {
	e := NewExtractor()
	frames := e.Feed("data: a\nnoise\ndata: b\n")
	frames = append(frames, e.Feed("data: c\n")...)

	for i, f := range frames {
		if f.Index != i {
			t.Errorf("frame %d Index = %d", i, f.Index)
		}
	}
	if e.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", e.Skipped())
	}
}

func TestExtractor_FlushEmitsTrailingLine(t *testing.T) {
	e := NewExtractor()
	if frames := e.Feed("data: first\ndata: last"); len(frames) != 1 {
		t.Fatalf("Feed() frames = %d, want 1", len(frames))
	}
	frames := e.Flush()
	if len(frames) != 1 || frames[0].Payload != "last" || frames[0].Index != 1 {
		t.Fatalf("Flush() = %+v", frames)
	}
	if frames := e.Flush(); frames != nil {
		t.Errorf("second Flush() = %+v, want nil", frames)
	}
}

func TestExtractor_SplitInvariance(t *testing.T) {
	stream := "data: {\"type\":\"start\",\"data\":{}}\n\ndata: {\"type\":\"chunk\",\"data\":{\"part\":\"hotels\",\"chunk\":\"{\\\"x\\\":1}\"}}\n\n: ping\ndata: tail\n"

	whole := NewExtractor()
	want := append(whole.Feed(stream), whole.Flush()...)

	for size := 1; size < len(stream); size++ {
		e := NewExtractor()
		var got []Frame
		for i := 0; i < len(stream); i += size {
			end := min(i+size, len(stream))
			got = append(got, e.Feed(stream[i:end])...)
		}
		got = append(got, e.Flush()...)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("chunk size %d mismatch (-want +got):\n%s", size, diff)
		}
	}
}
