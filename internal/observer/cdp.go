package observer

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/alttext/dom"
)

// listener feeds CDP DOM events into the observer's raw channel.
type listener struct {
	obs    *Observer
	expand *expander
}

func newListener(o *Observer) *listener {
	page := o.tab.Page
	return &listener{
		obs: o,
		expand: newExpander(func(ctx context.Context, id proto.DOMNodeID) error {
			depth := -1
			return proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(page.Context(ctx))
		}),
	}
}

func (l *listener) start() {
	if err := (proto.DOMEnable{}).Call(l.obs.tab.Page); err != nil {
		l.obs.logger.Warn("observer: DOM.enable", "error", err)
	}
	go l.expand.run(l.obs.ctx, l.obs.logger)
	go l.listen()
}

func (l *listener) push(e entry) {
	select {
	case l.obs.rawCh <- e:
	case <-l.obs.ctx.Done():
	}
}

func (l *listener) listen() {
	o := l.obs
	wait := o.tab.Page.Context(o.ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			n := o.doc.FromInserted(e.Node)
			if n == nil {
				return
			}
			o.inserted.Add(1)
			l.push(entry{parent: e.ParentNodeID, rec: dom.Record{Added: []dom.Node{n}}})
			l.expand.add(o.ctx, e.Node)
		},
		// Removals need no node handle: the annotator ignores them and
		// removed nodes cannot be resolved any more.
		func(e *proto.DOMChildNodeRemoved) {
			l.push(entry{parent: e.ParentNodeID, rec: dom.Record{}})
		},
		func(*proto.DOMDocumentUpdated) {
			select {
			case o.resetCh <- struct{}{}:
			default:
			}
		},
	)
	start := time.Now()
	wait()
	o.logger.Debug("observer: event stream closed", "page", o.tab.PageID, "after", time.Since(start), "inserted", o.inserted.Load())
}

// expander asks CDP for the full subtree of every inserted element. Chrome
// reports an inserted node at depth 0 and only emits childNodeInserted for
// parents whose children were sent to the client, so without this a node
// appended inside a freshly inserted one is never seen.
type expander struct {
	request func(ctx context.Context, id proto.DOMNodeID) error
	queue   chan proto.DOMNodeID
}

func newExpander(request func(context.Context, proto.DOMNodeID) error) *expander {
	return &expander{request: request, queue: make(chan proto.DOMNodeID, 1024)}
}

// add queues n when it is an element. Text and comment nodes never get
// children.
func (x *expander) add(ctx context.Context, n *proto.DOMNode) {
	if n == nil || n.NodeType != 1 {
		return
	}
	select {
	case x.queue <- n.NodeID:
	case <-ctx.Done():
	}
}

func (x *expander) run(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-x.queue:
			// The node may already be gone; later insertions under it
			// cannot happen then.
			if err := x.request(ctx, id); err != nil && ctx.Err() == nil {
				logger.Debug("observer: DOM.requestChildNodes", "node", id, "error", err)
			}
		}
	}
}
