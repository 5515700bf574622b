package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/tripstream/internal/server"
	"github.com/tjfontaine/tripstream/internal/storage"
)

const fixtureSession = "fixture"

var fixtureCmd = &cobra.Command{
	Use:   "serve-fixture",
	Short: "Serve recorded streams as a local SSE backend",
	Long: `serve-fixture starts an HTTP server that replays recorded frame logs as
SSE responses, for UI development and end-to-end tests.

POST ` + server.StreamPath + ` replays the default session; POST
/sessions/{id}/stream replays any recorded session. Stored results are
served under GET /sessions.`,
	Args: cobra.NoArgs,
	RunE: runFixture,
}

func init() {
	fixtureCmd.Flags().Int("port", 0, "Listen port (default fixture.port)")
	fixtureCmd.Flags().Duration("delay", 0, "Delay between frames (default fixture.frame_delay)")
	fixtureCmd.Flags().String("session", "", "Session replayed on the default route")
	fixtureCmd.Flags().String("file", "", "Load a captured SSE body as the default session")
	fixtureCmd.Flags().String("token", "", "Require this bearer token")
}

func runFixture(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	cfg := app.cfg

	port := cfg.Fixture.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	delay := cfg.Fixture.FrameDelay
	if cmd.Flags().Changed("delay") {
		delay, _ = cmd.Flags().GetDuration("delay")
	}
	session, _ := cmd.Flags().GetString("session")
	file, _ := cmd.Flags().GetString("file")
	token, _ := cmd.Flags().GetString("token")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if file != "" {
		if session == "" {
			session = fixtureSession
		}
		payloads, err := loadSSEFile(file)
		if err != nil {
			return err
		}
		if err := importFrames(ctx, store, session, payloads); err != nil {
			return err
		}
	}

	opts := []server.Option{
		server.WithFrameDelay(delay),
		server.WithResults(store),
	}
	if session != "" {
		opts = append(opts, server.WithDefaultSession(session))
	}
	if token != "" {
		opts = append(opts, server.WithToken(token))
	}

	return server.New(port, app.logger, store, opts...).Start(ctx)
}

func importFrames(ctx context.Context, log storage.FrameLog, sessionID string, payloads []string) error {
	for i, p := range payloads {
		if err := log.AppendFrame(ctx, &storage.StoredFrame{SessionID: sessionID, Index: i, Payload: p}); err != nil {
			return fmt.Errorf("failed to import frame %d: %w", i, err)
		}
	}
	return nil
}
