package alttext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/alttext/internal/sink"
	"github.com/hazyhaar/alttext/report"
)

type (
	// Sink receives annotation events.
	Sink = sink.Sink
	// Event is one annotation outcome.
	Event = report.Event
)

// NewStdoutSink writes events as JSON lines to w.
func NewStdoutSink(w io.Writer) Sink { return sink.NewStdout(w) }

// NewWebhookSink POSTs events to url.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewNATSSink publishes events on <prefix>.<page>.event.
func NewNATSSink(url, prefix string, logger *slog.Logger) (Sink, error) {
	return sink.NewNATS(url, prefix, logger)
}

// NewSQLiteSink appends events to the annotation_events table of path.
func NewSQLiteSink(path string) (Sink, error) { return sink.OpenSQLite(path) }

// NewCallbackSink calls fn for each event.
func NewCallbackSink(fn func(Event)) Sink {
	return sink.NewCallback(func(_ context.Context, ev report.Event) error {
		fn(ev)
		return nil
	})
}

// BuildSinks constructs the sinks of cfg. On error, sinks already opened
// are closed.
func BuildSinks(cfg []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	for _, sc := range cfg {
		s, err := buildSink(sc, logger)
		if err != nil {
			for _, o := range out {
				o.Close()
			}
			return nil, fmt.Errorf("alttext: sink %q: %w", sc.Type, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func buildSink(sc SinkConfig, logger *slog.Logger) (Sink, error) {
	switch sc.Type {
	case "stdout", "":
		return NewStdoutSink(os.Stdout), nil
	case "webhook":
		return NewWebhookSink(sc.URL, logger), nil
	case "nats":
		return NewNATSSink(sc.URL, sc.SubjectPrefix, logger)
	case "sqlite":
		return NewSQLiteSink(sc.Path)
	default:
		return nil, errors.New("unknown type")
	}
}
