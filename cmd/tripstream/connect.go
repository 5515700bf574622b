package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/tripstream/internal/stream"
	"github.com/tjfontaine/tripstream/internal/transport"
)

var connectCmd = &cobra.Command{
	Use:   "connect [url]",
	Short: "Stream recommendations and print the final result",
	Long: `Connect posts a request to the recommendation stream endpoint, follows
the event stream until it completes and prints the aggregate result as JSON.

The URL defaults to stream.url from the config. Interrupting the command
cancels the session; the partial result is still printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("body", "", "Raw JSON request body (overrides --message)")
	connectCmd.Flags().StringP("message", "m", "", "User message sent as {\"message\": ...}")
	connectCmd.Flags().StringToString("meta", nil, "Session metadata stored with the result (key=value)")
	connectCmd.Flags().String("token", "", "Bearer token (default stream.token)")
	connectCmd.Flags().Duration("timeout", 0, "Cancel the session after this long (default stream.timeout)")
	connectCmd.Flags().Bool("record", true, "Record frames for replay")
	connectCmd.Flags().Bool("progress", true, "Print progress to stderr")
}

// sessionOutput is what connect and replay print.
type sessionOutput struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Result    stream.Result `json:"result"`
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	logger := app.logger

	url := cfg.Stream.URL
	if len(args) > 0 {
		url = args[0]
	}
	if url == "" {
		return errors.New("no stream URL: pass one or set stream.url")
	}

	message, _ := cmd.Flags().GetString("message")
	rawBody, _ := cmd.Flags().GetString("body")
	meta, _ := cmd.Flags().GetStringToString("meta")

	var body any = map[string]string{"message": message}
	if rawBody != "" {
		if !json.Valid([]byte(rawBody)) {
			return errors.New("--body is not valid JSON")
		}
		body = json.RawMessage(rawBody)
	}

	token := cfg.Stream.Token
	if cmd.Flags().Changed("token") {
		token, _ = cmd.Flags().GetString("token")
	}
	timeout := cfg.Stream.Timeout
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetDuration("timeout")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	clientOpts := []transport.ClientOption{
		transport.WithLogger(logger),
		transport.WithBreaker(transport.NewBreaker(cfg.Breaker, logger)),
		transport.WithReadSize(cfg.Stream.ReadSize),
	}
	if token != "" {
		clientOpts = append(clientOpts, transport.WithTokenProvider(transport.StaticToken(token)))
	}

	opts := []stream.Option{
		stream.WithLogger(logger),
		stream.WithClient(transport.NewClient(clientOpts...)),
		stream.WithErrorHandler(func(msg string) {
			logger.Error("stream failed", slog.String("error", msg))
		}),
	}
	if app.store != nil {
		opts = append(opts, stream.WithResultStore(app.store))
		if record, _ := cmd.Flags().GetBool("record"); record {
			opts = append(opts, stream.WithFrameLog(app.store))
		}
	}

	p := stream.New(opts...)
	if show, _ := cmd.Flags().GetBool("progress"); show {
		stderr := cmd.ErrOrStderr()
		p.OnProgress(func(st stream.ProgressState) {
			fmt.Fprintf(stderr, "[%3.0f%%] %s\n", st.Percent, st.Step)
		})
	}

	s, err := p.Connect(ctx, url, body, stream.SessionContext{UserMessage: message, Metadata: meta})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	res, werr := s.Wait(context.Background())
	if err := printSession(cmd, s, res, werr); err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, stream.ErrCancelled) {
		return fmt.Errorf("session %s: %w", s.ID(), werr)
	}
	return nil
}

func printSession(cmd *cobra.Command, s *stream.Session, res stream.Result, err error) error {
	st := s.Progress()
	out := sessionOutput{
		SessionID: s.ID(),
		StartedAt: s.StartedAt(),
		Status:    st.Status.String(),
		Result:    res,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return printJSON(cmd.OutOrStdout(), out)
}
