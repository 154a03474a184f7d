package sink

import (
	"context"

	"github.com/hazyhaar/alttext/report"
)

// EventFunc handles one event in-process.
type EventFunc func(ctx context.Context, ev report.Event) error

// Callback hands events to a Go function, without serialisation. Used when
// the annotator is embedded as a library and by the MCP stats tool.
type Callback struct {
	fn EventFunc
}

// NewCallback returns a Callback sink. A nil fn drops events.
func NewCallback(fn EventFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev report.Event) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, ev)
}

func (c *Callback) Close() error { return nil }
