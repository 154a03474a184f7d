// Package pagesync keeps the set of watched pages in step with the
// watch_pages table. It polls PRAGMA data_version, which moves whenever
// another connection writes the database file, and reapplies the active
// rows once the writes settle.
package pagesync

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/alttext/internal/config"
)

// ApplyFunc receives the complete list of active pages after a change.
type ApplyFunc func(ctx context.Context, pages []config.PageConfig) error

// Options tunes a Syncer.
type Options struct {
	// Interval is the polling period. Default: 2s.
	Interval time.Duration
	// Debounce is the quiet period after a change before pages are
	// reloaded; a further change restarts it. Default: 500ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Syncer polls one database. The *sql.DB must be limited to a single
// connection: data_version is tracked per connection.
type Syncer struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	checks  atomic.Int64
	applies atomic.Int64
	errors  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Applies int64 `json:"applies"`
	Errors  int64 `json:"errors"`
}

// New creates a Syncer. Run starts it.
func New(db *sql.DB, opts Options) *Syncer {
	opts.defaults()
	db.SetMaxOpenConns(1)
	return &Syncer{db: db, opts: opts}
}

// Stats returns the counters.
func (s *Syncer) Stats() Stats {
	return Stats{
		Checks:  s.checks.Load(),
		Applies: s.applies.Load(),
		Errors:  s.errors.Load(),
	}
}

// Run blocks until ctx is done. The current version is recorded first, so
// only later writes trigger apply. When apply fails the version is not
// advanced and the next poll retries.
func (s *Syncer) Run(ctx context.Context, apply ApplyFunc) {
	log := s.opts.Logger
	if v, err := dataVersion(ctx, s.db); err != nil {
		log.Warn("pagesync: initial version check failed", "error", err)
	} else {
		s.version.Store(v)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var (
		settle  *time.Timer
		settleC <-chan time.Time
		pending int64 = -1
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.checks.Add(1)
			cur, err := dataVersion(ctx, s.db)
			if err != nil {
				s.errors.Add(1)
				log.Warn("pagesync: version check failed", "error", err)
				continue
			}
			if cur == s.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(s.opts.Debounce)
			settleC = settle.C
			log.Debug("pagesync: change detected", "version", cur)

		case <-settleC:
			settleC = nil
			if s.apply(ctx, apply) {
				s.version.Store(pending)
			}
			pending = -1
		}
	}
}

func (s *Syncer) apply(ctx context.Context, apply ApplyFunc) bool {
	pages, err := config.LoadPages(ctx, s.db)
	if err == nil {
		err = apply(ctx, pages)
	}
	if err != nil {
		s.errors.Add(1)
		s.opts.Logger.Error("pagesync: reload failed", "error", err)
		return false
	}
	s.applies.Add(1)
	s.opts.Logger.Info("pagesync: pages reloaded", "active", len(pages))
	return true
}

func dataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
