// Package sink delivers annotation events to output backends.
package sink

import (
	"context"

	"github.com/hazyhaar/alttext/report"
)

// Sink receives one report.Event per processed image. Implementations must
// be safe for concurrent use: pages run their engines independently.
type Sink interface {
	Send(ctx context.Context, ev report.Event) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
