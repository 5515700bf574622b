package stream

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/tripstream/internal/envelope"
	"github.com/tjfontaine/tripstream/internal/progress"
)

// apply routes one event. Callers hold s.mu and have checked the session is
// live.
func (s *Session) apply(ev envelope.Event) {
	switch e := ev.(type) {
	case envelope.Start:
		s.check("start", s.machine.Start())

	case envelope.Progress:
		s.check("progress", s.machine.Update(e.Percent, e.Message))

	case envelope.Chunk:
		part, ok := envelope.LookupPart(e.Part)
		if !ok {
			s.check("text", s.store.AppendText(e.Fragment))
			return
		}
		for _, obj := range s.buffers.Append(part, e.Fragment) {
			s.mergePart(part, obj)
		}

	case envelope.Domain:
		s.mergePart(e.Part, e.Data)

	case envelope.Complete:
		s.complete(e.Data)

	case envelope.Failure:
		s.failLocked(&DomainError{Message: e.Message})

	case envelope.Unknown:
		s.logger.Warn("ignoring unknown event type", slog.String("type", e.Type))

	case envelope.Text:
		s.check("text", s.store.AppendText(e.Text))

	default:
		s.logger.Warn("unhandled event", slog.Any("event", ev))
	}
}

func (s *Session) mergePart(part envelope.Part, value any) {
	if value != nil {
		s.check(string(part), s.store.Merge(string(part), value))
	}
	label, percent := progress.ForPart(part)
	s.check(string(part), s.machine.Update(&percent, label))
}

func (s *Session) complete(data map[string]any) {
	s.check("complete", s.store.MergeAll(data))
	final := s.store.Freeze()
	s.check("complete", s.machine.Complete())
	s.final = final
	s.finish(nil)

	ctx := context.WithoutCancel(s.ctx)
	s.after = append(s.after, func() {
		s.bridge.Handoff(ctx, final)
	})
}

func (s *Session) check(what string, err error) {
	if err != nil {
		s.logger.Debug("event not applied",
			slog.String("event", what),
			slog.String("error", err.Error()),
		)
	}
}
