package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/tjfontaine/tripstream/internal/sse"
	"github.com/tjfontaine/tripstream/internal/storage"
)

const maxRequestBody = 1 << 20

// handleStream replays a frame log. The session comes from the route, then
// a "session_id" field in the JSON body, then the default session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := chi.URLParam(r, "id")
	if id == "" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			AddError(ctx, err)
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		id = gjson.GetBytes(body, "session_id").String()
	}
	if id == "" {
		id = s.defaultSession
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "no session to replay")
		return
	}
	AddLogField(ctx, "session_id", id)

	frames, err := s.frames.ListFrames(ctx, id)
	if err != nil {
		AddError(ctx, err)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load frames")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var timer *time.Timer
	if s.frameDelay > 0 {
		timer = time.NewTimer(s.frameDelay)
		defer timer.Stop()
	}

	sent := 0
	defer func() { AddLogField(ctx, "frames", strconv.Itoa(sent)) }()

	for i, f := range frames {
		if i > 0 && timer != nil {
			timer.Reset(s.frameDelay)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s\n\n", sse.DataPrefix, f.Payload); err != nil {
			AddError(ctx, err)
			return
		}
		flusher.Flush()
		sent++
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	recs, err := s.results.ListResults(r.Context(), opts)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if recs == nil {
		recs = []*storage.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.results.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		AddError(r.Context(), err)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}
