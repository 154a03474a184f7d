// Package annotate is the alt-text annotation engine. For every image the
// page inserts it decides whether the image deserves an annotation, finds
// the link-bearing container the overlay belongs in, and appends a text
// overlay carrying the image's alt text (or a warning when there is none).
//
// An Engine owns the state that must outlive a single batch: the sampled
// text style and the association id counter. One Engine per page.
package annotate

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/idgen"
	"github.com/hazyhaar/alttext/report"
)

// Config configures an Engine.
type Config struct {
	PageID  string
	PageURL string

	// ThumbnailTestID enables the containment filter: images inside an
	// element with this data-testid are ignored. Empty disables it.
	ThumbnailTestID string

	// Concurrency bounds the per-batch tasks run when the containment
	// filter is enabled. Default: GOMAXPROCS.
	Concurrency int

	// OnEvent receives one report.Event per processed image. May be nil.
	OnEvent func(report.Event)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine annotates images of one document.
type Engine struct {
	cfg        Config
	doc        dom.Document
	classifier *Classifier
	styles     styleSampler
	logger     *slog.Logger

	// lastID is the last association id handed out. Ids start at 1.
	lastID atomic.Int64

	stats counters
}

// New creates an Engine bound to doc.
func New(doc dom.Document, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:        cfg,
		doc:        doc,
		classifier: NewClassifier(doc, cfg.ThumbnailTestID),
		styles:     styleSampler{logger: cfg.Logger},
		logger:     cfg.Logger,
	}
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Batches     int64 `json:"batches"`
	Annotated   int64 `json:"annotated"`
	Profile     int64 `json:"ignored_profile"`
	Emoji       int64 `json:"ignored_emoji"`
	Thumbnail   int64 `json:"ignored_thumbnail"`
	NoContainer int64 `json:"skipped_no_container"`
	Hidden      int64 `json:"skipped_hidden"`
	Failed      int64 `json:"failed"`
	LastID      int64 `json:"last_association_id"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Batches += o.Batches
	s.Annotated += o.Annotated
	s.Profile += o.Profile
	s.Emoji += o.Emoji
	s.Thumbnail += o.Thumbnail
	s.NoContainer += o.NoContainer
	s.Hidden += o.Hidden
	s.Failed += o.Failed
	if o.LastID > s.LastID {
		s.LastID = o.LastID
	}
}

type counters struct {
	batches, annotated, profile, emoji, thumbnail atomic.Int64
	noContainer, hidden, failed                  atomic.Int64
}

func (c *counters) record(o report.Outcome) {
	switch o {
	case report.OutcomeAnnotated:
		c.annotated.Add(1)
	case report.OutcomeProfile:
		c.profile.Add(1)
	case report.OutcomeEmoji:
		c.emoji.Add(1)
	case report.OutcomeThumbnail:
		c.thumbnail.Add(1)
	case report.OutcomeNoContainer:
		c.noContainer.Add(1)
	case report.OutcomeHidden:
		c.hidden.Add(1)
	case report.OutcomeFailed:
		c.failed.Add(1)
	}
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Batches:     e.stats.batches.Load(),
		Annotated:   e.stats.annotated.Load(),
		Profile:     e.stats.profile.Load(),
		Emoji:       e.stats.emoji.Load(),
		Thumbnail:   e.stats.thumbnail.Load(),
		NoContainer: e.stats.noContainer.Load(),
		Hidden:      e.stats.hidden.Load(),
		Failed:      e.stats.failed.Load(),
		LastID:      e.lastID.Load(),
	}
}

// nextID hands out the next association id.
func (e *Engine) nextID() int64 {
	return e.lastID.Add(1)
}

func (e *Engine) emit(seq uint64, res result) {
	e.stats.record(res.outcome)
	if e.cfg.OnEvent == nil {
		return
	}
	ev := report.Event{
		ID:        idgen.New(),
		PageID:    e.cfg.PageID,
		PageURL:   e.cfg.PageURL,
		BatchSeq:  seq,
		Src:       res.src,
		Outcome:   res.outcome,
		Timestamp: time.Now().UnixMilli(),
	}
	if res.overlay != nil {
		ev.AssociationID = res.overlay.ID
		ev.Alt = res.overlay.Alt
		ev.NoAlt = res.overlay.NoAlt
		ev.Text = res.overlay.Text
	}
	if res.err != nil {
		ev.Error = res.err.Error()
	}
	e.cfg.OnEvent(ev)
}
