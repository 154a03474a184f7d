package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/alttext/report"
)

// NATS publishes events on <prefix>.<page_id>.event.
type NATS struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATS connects to url. The connection keeps retrying in the background
// when the server is not up yet; publishes are buffered meanwhile.
func NewNATS(url, subjectPrefix string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("alttext"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("sink: nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("sink: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: nats connect %s: %w", url, err)
	}
	return &NATS{nc: nc, prefix: subjectPrefix, logger: logger}, nil
}

// Subject is the subject an event for pageID is published on.
func Subject(prefix, pageID string) string {
	if pageID == "" {
		pageID = "_"
	}
	return prefix + "." + pageID + ".event"
}

func (n *NATS) Send(_ context.Context, ev report.Event) error {
	data, err := report.MarshalEvent(&ev)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(Subject(n.prefix, ev.PageID), data); err != nil {
		return fmt.Errorf("sink: nats publish: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("sink: nats drain: %w", err)
	}
	return nil
}
