package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/tripstream/internal/sse"
	"github.com/tjfontaine/tripstream/internal/storage"
	"github.com/tjfontaine/tripstream/internal/stream"
)

var replayCmd = &cobra.Command{
	Use:   "replay [session-id]",
	Short: "Replay a recorded stream through a fresh pipeline",
	Long: `Replay feeds a recorded frame log through a new session without any
network access and prints the resulting aggregate. Frames come from the
storage backend, or from a captured SSE body with --file.

With --verify the replayed result is compared against the stored result of
the original session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("file", "", "Read frames from a captured SSE body instead of storage")
	replayCmd.Flags().Bool("verify", false, "Compare against the stored result of the session")
}

func runReplay(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	verify, _ := cmd.Flags().GetBool("verify")

	var (
		payloads []string
		err      error
	)
	switch {
	case file != "":
		payloads, err = loadSSEFile(file)
	case len(args) == 1:
		payloads, err = loadStoredFrames(cmd.Context(), args[0])
	default:
		return errors.New("pass a session id or --file")
	}
	if err != nil {
		return err
	}

	p := stream.New(stream.WithLogger(app.logger))
	s := p.Replay(cmd.Context(), payloads, stream.SessionContext{})
	res, werr := s.Wait(cmd.Context())
	if err := printSession(cmd, s, res, werr); err != nil {
		return err
	}

	if verify {
		if len(args) == 0 {
			return errors.New("--verify needs a session id")
		}
		return verifyReplay(cmd.Context(), args[0], res)
	}
	return nil
}

func loadStoredFrames(ctx context.Context, sessionID string) ([]string, error) {
	store, err := requireStore()
	if err != nil {
		return nil, err
	}
	frames, err := store.ListFrames(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load frames: %w", err)
	}
	payloads := make([]string, len(frames))
	for i, f := range frames {
		payloads[i] = f.Payload
	}
	return payloads, nil
}

// loadSSEFile extracts the data payloads of a captured SSE body.
func loadSSEFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return extractPayloads(string(data)), nil
}

func extractPayloads(body string) []string {
	ex := sse.NewExtractor()
	frames := append(ex.Feed(body), ex.Flush()...)
	payloads := make([]string, len(frames))
	for i, f := range frames {
		payloads[i] = f.Payload
	}
	return payloads
}

func verifyReplay(ctx context.Context, sessionID string, got stream.Result) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	rec, err := store.GetResult(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session %s has no stored result to verify against", sessionID)
	}
	if err != nil {
		return err
	}
	if diff := cmp.Diff(rec.Result, got); diff != "" {
		return fmt.Errorf("replay differs from stored result (-stored +replay):\n%s", strings.TrimSpace(diff))
	}
	app.logger.Info("replay matches stored result")
	return nil
}
