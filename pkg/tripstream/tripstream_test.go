package tripstream_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tjfontaine/tripstream/pkg/tripstream"
)

func TestReplayThroughFacade(t *testing.T) {
	var completed tripstream.Result
	p := tripstream.New(
		tripstream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tripstream.WithCompletion(func(r tripstream.Result) { completed = r }),
	)

	s := p.Replay(context.Background(), []string{
		`{"type":"start","data":{}}`,
		`{"type":"chunk","data":{"part":"hotels","chunk":"{\"hotels\":[{\"name\":\"Gr"}}`,
		`{"type":"chunk","data":{"part":"hotels","chunk":"and\"}]}"}}`,
		`{"type":"complete","data":{}}`,
	}, tripstream.SessionContext{UserMessage: "hotels in Porto"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if st := p.Progress(); st.Status != tripstream.StatusCompleted || !st.IsComplete {
		t.Errorf("Progress() = %+v, want completed", st)
	}
	if _, ok := res["hotels"]; !ok {
		t.Errorf("result = %v, want hotels key", res)
	}
	if completed == nil {
		t.Error("completion callback not invoked")
	}
}

func TestDomainErrorThroughFacade(t *testing.T) {
	p := tripstream.New(tripstream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s := p.Replay(context.Background(), []string{
		`{"type":"error","data":{"message":"upstream timeout"}}`,
	}, tripstream.SessionContext{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Wait(ctx)

	var de *tripstream.DomainError
	if !errors.As(err, &de) || de.Message != "upstream timeout" {
		t.Fatalf("Wait() error = %v, want DomainError", err)
	}
}
