package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/tripstream/internal/result"
	"github.com/tjfontaine/tripstream/internal/storage"
	"github.com/tjfontaine/tripstream/internal/storage/memory"
	"github.com/tjfontaine/tripstream/internal/stream"
	"github.com/tjfontaine/tripstream/internal/transport"
)

var testFrames = []string{
	`{"type":"start","data":{}}`,
	`{"type":"chunk","data":{"part":"hotels","chunk":"{\"hotels\":[{\"name\":\"Sea View\"}"}}`,
	`{"type":"chunk","data":{"part":"hotels","chunk":"]}"}}`,
	`{"type":"complete","data":{}}`,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	for i, f := range testFrames {
		if err := store.AppendFrame(context.Background(), &storage.StoredFrame{SessionID: "fixture", Index: i, Payload: f}); err != nil {
			t.Fatalf("AppendFrame() error = %v", err)
		}
	}
	return store
}

func readFrames(t *testing.T, body io.Reader) []string {
	t.Helper()
	var out []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan error = %v", err)
	}
	return out
}

func TestServer_StreamReplaysFrames(t *testing.T) {
	srv := New(0, discardLogger(), seededStore(t), WithDefaultSession("fixture"))
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+StreamPath, "application/json", strings.NewReader(`{"city":"Nice"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if diff := cmp.Diff(testFrames, readFrames(t, resp.Body)); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_StreamSelectsSession(t *testing.T) {
	store := seededStore(t)
	if err := store.AppendFrame(context.Background(), &storage.StoredFrame{SessionID: "other", Index: 0, Payload: "only"}); err != nil {
		t.Fatalf("AppendFrame() error = %v", err)
	}
	ts := httptest.NewServer(New(0, discardLogger(), store, WithDefaultSession("fixture")).Router)
	defer ts.Close()

	tests := []struct {
		name string
		path string
		body string
		want []string
	}{
		{name: "route parameter", path: "/sessions/other/stream", body: `{}`, want: []string{"only"}},
		{name: "body field", path: StreamPath, body: `{"session_id":"other"}`, want: []string{"only"}},
		{name: "default", path: StreamPath, body: `{}`, want: testFrames},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			defer resp.Body.Close()
			if diff := cmp.Diff(tt.want, readFrames(t, resp.Body)); diff != "" {
				t.Errorf("frames mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServer_StreamNotFound(t *testing.T) {
	ts := httptest.NewServer(New(0, discardLogger(), memory.New()).Router)
	defer ts.Close()

	for _, path := range []string{StreamPath, "/sessions/nope/stream"} {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestServer_RequiresToken(t *testing.T) {
	ts := httptest.NewServer(New(0, discardLogger(), seededStore(t),
		WithDefaultSession("fixture"),
		WithToken("letmein"),
	).Router)
	defer ts.Close()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "no bearer prefix", header: "letmein", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer letmein", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+StreamPath, strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_FrameDelayStopsOnDisconnect(t *testing.T) {
	srv := New(0, discardLogger(), seededStore(t),
		WithDefaultSession("fixture"),
		WithFrameDelay(time.Hour),
	)
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+StreamPath, strings.NewReader(`{}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if line != "data: "+testFrames[0]+"\n" {
		t.Errorf("first line = %q", line)
	}

	cancel()
	resp.Body.Close()
}

func TestServer_EndToEndPipeline(t *testing.T) {
	store := seededStore(t)
	ts := httptest.NewServer(New(0, discardLogger(), store,
		WithDefaultSession("fixture"),
		WithResults(store),
		WithToken("secret"),
	).Router)
	defer ts.Close()

	client := transport.NewClient(
		transport.WithHTTPClient(ts.Client()),
		transport.WithTokenProvider(transport.StaticToken("secret")),
	)
	p := stream.New(
		stream.WithLogger(discardLogger()),
		stream.WithClient(client),
		stream.WithResultStore(store),
	)

	s, err := p.Connect(context.Background(), ts.URL+StreamPath, map[string]string{"city": "Nice"}, stream.SessionContext{UserMessage: "Nice hotels"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	want := result.Result{"hotels": map[string]any{"hotels": []any{map[string]any{"name": "Sea View"}}}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sessions/"+s.ID(), nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET session status = %d", resp.StatusCode)
	}

	var rec storage.SessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if rec.UserMessage != "Nice hotels" || rec.Status != "completed" {
		t.Errorf("session record = %+v", rec)
	}
	if diff := cmp.Diff(want, rec.Result); diff != "" {
		t.Errorf("stored result mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_ListSessions(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.SaveResult(context.Background(), &storage.SessionRecord{ID: id, Status: "completed"}); err != nil {
			t.Fatalf("SaveResult() error = %v", err)
		}
	}
	ts := httptest.NewServer(New(0, discardLogger(), store, WithResults(store)).Router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sessions?limit=2")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Sessions []storage.SessionRecord `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(body.Sessions))
	}

	missing, err := http.Get(ts.URL + "/sessions/zzz")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing status = %d, want 404", missing.StatusCode)
	}
}
