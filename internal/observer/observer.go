// Package observer turns the CDP child-list events of one page into
// debounced dom.Batch values and hands them to a handler, one at a time,
// on the observer's own goroutine.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/idgen"
	"github.com/hazyhaar/alttext/internal/browser"
	"github.com/hazyhaar/alttext/internal/livedom"
)

// Handler receives each batch. Calls are serialised per observer.
type Handler func(ctx context.Context, b dom.Batch)

// Config for New.
type Config struct {
	Tab            *browser.Tab
	Handler        Handler
	DebounceWindow time.Duration
	DebounceMax    int
	Logger         *slog.Logger
}

// Observer watches one tab.
type Observer struct {
	tab     *browser.Tab
	doc     *livedom.Document
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	rawCh   chan entry
	resetCh chan struct{}

	debouncer *debouncer
	seq       atomic.Uint64
	inserted  atomic.Int64
}

// New creates an Observer. Start begins delivery.
func New(parent context.Context, cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	o := &Observer{
		tab:     cfg.Tab,
		doc:     livedom.New(cfg.Tab.Page),
		handler: cfg.Handler,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		rawCh:   make(chan entry, 4096),
		resetCh: make(chan struct{}, 1),
	}
	o.debouncer = newDebouncer(debounceConfig{
		Window:    cfg.DebounceWindow,
		MaxBuffer: cfg.DebounceMax,
	}, o.emit)
	return o
}

// Document is the live document batches refer to.
func (o *Observer) Document() *livedom.Document { return o.doc }

// Start enables full-depth DOM tracking, subscribes to CDP events and starts
// the delivery loop.
func (o *Observer) Start() error {
	if err := o.tab.TrackDOM(o.ctx); err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	newListener(o).start()
	go o.loop()

	o.logger.Info("observer: watching", "page", o.tab.PageID, "url", o.tab.PageURL)
	return nil
}

// Stop delivers whatever is buffered and waits for the loop to exit.
func (o *Observer) Stop() {
	o.cancel()
	<-o.done
}

// Seq is the sequence number of the last delivered batch.
func (o *Observer) Seq() uint64 { return o.seq.Load() }

func (o *Observer) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			// Drain so records that were already queued are not lost.
		drain:
			for {
				select {
				case e := <-o.rawCh:
					o.debouncer.add(e)
				default:
					break drain
				}
			}
			o.debouncer.flush()
			return

		case e := <-o.rawCh:
			o.debouncer.add(e)

		case <-o.debouncer.timerC():
			o.debouncer.flush()

		case <-o.resetCh:
			o.debouncer.flush()
			if err := o.tab.TrackDOM(o.ctx); err != nil {
				o.logger.Warn("observer: re-track after document reset", "page", o.tab.PageID, "error", err)
				continue
			}
			o.logger.Info("observer: document reset", "page", o.tab.PageID)
		}
	}
}

// emit runs on the loop goroutine, from debouncer flushes.
func (o *Observer) emit(recs []dom.Record) {
	b := dom.Batch{Records: recs}
	if b.AddedCount() == 0 {
		return
	}
	b = dom.Batch{
		ID:        idgen.New(),
		PageID:    o.tab.PageID,
		PageURL:   o.tab.PageURL,
		Seq:       o.seq.Add(1),
		Records:   recs,
		Timestamp: time.Now().UnixMilli(),
	}
	o.logger.Debug("observer: batch", "page", b.PageID, "seq", b.Seq, "records", len(recs), "added", b.AddedCount())

	// The handler gets a context that survives Stop so the final flush is
	// processed in full.
	o.handler(context.WithoutCancel(o.ctx), b)
}
