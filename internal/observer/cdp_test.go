package observer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

type requests struct {
	mu  sync.Mutex
	ids []proto.DOMNodeID
	got chan struct{}
}

func (r *requests) request(_ context.Context, id proto.DOMNodeID) error {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	r.got <- struct{}{}
	if id == 13 {
		return errors.New("No node with given id found")
	}
	return nil
}

func TestExpander_RequestsSubtreeOfInsertedElements(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &requests{got: make(chan struct{}, 8)}
	x := newExpander(r.request)
	go x.run(ctx, slog.Default())

	x.add(ctx, &proto.DOMNode{NodeID: 11, NodeType: 1, LocalName: "div"})
	x.add(ctx, &proto.DOMNode{NodeID: 12, NodeType: 3, NodeName: "#text"})
	x.add(ctx, nil)
	x.add(ctx, &proto.DOMNode{NodeID: 13, NodeType: 1, LocalName: "section"})
	x.add(ctx, &proto.DOMNode{NodeID: 14, NodeType: 1, LocalName: "img"})

	for range 3 {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatal("expander did not request child nodes")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	want := []proto.DOMNodeID{11, 13, 14}
	if len(r.ids) != len(want) {
		t.Fatalf("requested %v, want %v", r.ids, want)
	}
	for i := range want {
		if r.ids[i] != want[i] {
			t.Errorf("request[%d] = %d, want %d", i, r.ids[i], want[i])
		}
	}
}

func TestExpander_AddReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	x := newExpander(func(context.Context, proto.DOMNodeID) error { return nil })
	x.queue = make(chan proto.DOMNodeID)
	cancel()

	done := make(chan struct{})
	go func() {
		x.add(ctx, &proto.DOMNode{NodeID: 1, NodeType: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("add blocked after cancel with no worker")
	}
}
