package observer

import (
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/alttext/dom"
)

// debounceConfig controls batching.
type debounceConfig struct {
	// Window is the quiet period after the last event. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately at this many entries. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 250 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// entry is one CDP child-list event: the parent it happened under and the
// record it produced.
type entry struct {
	parent proto.DOMNodeID
	rec    dom.Record
}

// debouncer buffers entries and hands them out as records once the window
// expires or the buffer fills. It is driven by a single goroutine.
type debouncer struct {
	cfg     debounceConfig
	entries []entry
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]dom.Record)
}

func newDebouncer(cfg debounceConfig, flushFn func([]dom.Record)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		entries: make([]entry, 0, 64),
		flushFn: flushFn,
	}
}

// add buffers e and reports whether it caused an immediate flush.
func (d *debouncer) add(e entry) bool {
	d.entries = append(d.entries, e)
	if len(d.entries) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the window expires; nil while the buffer is empty.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) pending() int {
	return len(d.entries)
}

func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.entries) == 0 {
		return
	}
	recs := compress(d.entries)
	d.entries = d.entries[:0]
	d.flushFn(recs)
}

// compress folds consecutive entries under the same parent into a single
// record, the way a MutationObserver reports one childList record per
// parent. Order within and across records is preserved.
func compress(entries []entry) []dom.Record {
	if len(entries) == 0 {
		return nil
	}
	out := make([]dom.Record, 0, len(entries))
	cur := entries[0]
	cur.rec = cloneRecord(cur.rec)
	for _, e := range entries[1:] {
		if e.parent == cur.parent {
			cur.rec.Added = append(cur.rec.Added, e.rec.Added...)
			cur.rec.Removed = append(cur.rec.Removed, e.rec.Removed...)
			continue
		}
		out = append(out, cur.rec)
		cur = e
		cur.rec = cloneRecord(cur.rec)
	}
	return append(out, cur.rec)
}

func cloneRecord(r dom.Record) dom.Record {
	return dom.Record{
		Added:   append([]dom.Node(nil), r.Added...),
		Removed: append([]dom.Node(nil), r.Removed...),
	}
}
