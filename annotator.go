// Package alttext annotates the images of a rendered social feed with their
// alt text. An Annotator drives Chrome through go-rod: for every watched
// page it observes DOM insertions and, for each inserted image, appends a
// visible overlay carrying the image's alt text, or a warning when there is
// none. AnnotateHTML runs the same engine on a saved page.
package alttext

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/alttext/dbopen"
	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/idgen"
	"github.com/hazyhaar/alttext/internal/annotate"
	"github.com/hazyhaar/alttext/internal/browser"
	"github.com/hazyhaar/alttext/internal/config"
	"github.com/hazyhaar/alttext/internal/observer"
	"github.com/hazyhaar/alttext/internal/pagesync"
	"github.com/hazyhaar/alttext/internal/sink"
	"github.com/hazyhaar/alttext/report"
)

var (
	// ErrAlreadyWatching is returned by WatchPage for a page id in use.
	ErrAlreadyWatching = errors.New("alttext: page already watched")

	// ErrUnknownPage is returned by Unwatch for an id that is not watched.
	ErrUnknownPage = errors.New("alttext: unknown page")

	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("alttext: annotator stopped")

	errRecycling = errors.New("alttext: browser recycling")
)

// Annotator owns the browser, one engine and observer per watched page,
// and the sinks events are delivered to.
type Annotator struct {
	cfg    *config.Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	logger *slog.Logger

	// ctx outlives the requests that may lazily start the browser; Stop
	// cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopped  bool
	pages    map[string]*pageRun
	opening  map[string]bool
	fromDB   map[string]bool
	detached []PageConfig
	pagesDB  *sql.DB
	// gen counts recycles; a tab opened under an older gen belongs to a
	// browser that is gone.
	gen uint64
	// retired accumulates the counters of engines that were torn down by a
	// recycle or Unwatch.
	retired annotate.Stats
}

type pageRun struct {
	cfg    PageConfig
	tab    *browser.Tab
	obs    *observer.Observer
	engine *annotate.Engine
}

// New creates an Annotator. Nothing runs until Start or WatchPage.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Annotator {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	level := browser.LevelHeadless
	if cfg.Browser.Stealth == "headful" {
		level = browser.LevelHeadful
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval.Std(),
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          level,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Annotator{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		mgr:     mgr,
		sinkR:   sink.NewRouter(logger, sinks...),
		logger:  logger,
		pages:   make(map[string]*pageRun),
		opening: make(map[string]bool),
		fromDB:  make(map[string]bool),
	}
}

// Start launches the browser and watches every configured page, from the
// config file and from the pages database when one is set. A page that
// fails to open is logged and skipped. ctx bounds the startup only; pages
// are watched until Stop.
func (a *Annotator) Start(ctx context.Context) error {
	if err := a.ensureBrowser(ctx); err != nil {
		return err
	}
	for _, p := range a.cfg.Pages {
		if _, err := a.WatchPage(ctx, p); err != nil {
			a.logger.Error("alttext: failed to watch page", "id", p.ID, "url", p.URL, "error", err)
		}
	}
	if a.cfg.PagesDB == "" {
		return nil
	}

	db, err := dbopen.Open(a.cfg.PagesDB, dbopen.WithMkdirAll(), dbopen.WithSchema(config.Schema))
	if err != nil {
		return fmt.Errorf("alttext: pages db: %w", err)
	}
	syncer := pagesync.New(db, pagesync.Options{Logger: a.logger})
	pages, err := config.LoadPages(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	if err := a.syncPages(ctx, pages); err != nil {
		a.logger.Error("alttext: pages db partially applied", "error", err)
	}
	a.mu.Lock()
	a.pagesDB = db
	a.mu.Unlock()
	go syncer.Run(a.ctx, a.syncPages)
	return nil
}

// syncPages makes the pages that came from the pages database match pages:
// new rows are watched, missing rows unwatched, changed rows reopened.
// Pages from the config file or the API are left alone.
func (a *Annotator) syncPages(ctx context.Context, pages []PageConfig) error {
	want := make(map[string]PageConfig, len(pages))
	for _, p := range pages {
		want[p.ID] = p
	}

	var todo []PageConfig
	a.mu.Lock()
	if len(a.detached) > 0 {
		a.mu.Unlock()
		return errRecycling
	}
	for id := range a.fromDB {
		run, live := a.pages[id]
		p, keep := want[id]
		if live && keep && run.cfg == p {
			continue
		}
		if live {
			a.stopRunLocked(id, run)
		}
		delete(a.fromDB, id)
	}
	for _, p := range pages {
		if a.fromDB[p.ID] {
			continue
		}
		if _, taken := a.pages[p.ID]; taken || a.opening[p.ID] {
			a.logger.Warn("alttext: pages db row shadowed by a watched page", "id", p.ID)
			continue
		}
		todo = append(todo, p)
	}
	a.mu.Unlock()

	var errs []error
	for _, p := range todo {
		if _, err := a.WatchPage(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
			continue
		}
		a.mu.Lock()
		a.fromDB[p.ID] = true
		a.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (a *Annotator) ensureBrowser(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return nil
	}
	if _, err := a.mgr.Start(a.ctx); err != nil {
		return fmt.Errorf("alttext: start browser: %w", err)
	}
	a.started = true
	a.installHooks()
	return nil
}

func (a *Annotator) installHooks() {
	a.mgr.SetHooks(browser.Hooks{
		Before: a.detachAll,
		After:  func(*rod.Browser) { a.reattachAll() },
	})
}

// WatchPage opens p in a new tab and starts annotating it. An empty ID is
// replaced by a generated one, which is returned.
func (a *Annotator) WatchPage(ctx context.Context, p PageConfig) (string, error) {
	if p.URL == "" {
		return "", errors.New("alttext: page url is required")
	}
	if p.ID == "" {
		p.ID = idgen.PageID()
	}
	if err := a.ensureBrowser(ctx); err != nil {
		return "", err
	}
	if err := a.watch(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// watch reserves p.ID, opens the tab without holding a.mu and commits the
// run. A recycle that lands while the tab opens makes the run stale; it is
// discarded and the page opened again in the new browser.
func (a *Annotator) watch(ctx context.Context, p PageConfig) error {
	gen, err := a.reserve(p.ID)
	if err != nil {
		return err
	}
	for {
		run, err := a.open(ctx, p)
		next, err := a.commit(p.ID, gen, run, err)
		if err != nil || next == gen {
			return err
		}
		a.logger.Info("alttext: browser recycled while opening page", "id", p.ID)
		gen = next
	}
}

func (a *Annotator) reserve(id string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return 0, ErrStopped
	}
	if _, ok := a.pages[id]; ok || a.opening[id] {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyWatching, id)
	}
	a.opening[id] = true
	return a.gen, nil
}

// commit publishes run when the browser it was opened in is still current.
// It returns the current gen: a value other than gen means run was stale
// and has been stopped, and the reservation is kept for a retry.
func (a *Annotator) commit(id string, gen uint64, run *pageRun, openErr error) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case openErr != nil:
		delete(a.opening, id)
		return a.gen, openErr
	case a.stopped:
		delete(a.opening, id)
		a.closeRun(id, run)
		return a.gen, ErrStopped
	case a.gen != gen:
		a.closeRun(id, run)
		return a.gen, nil
	}
	delete(a.opening, id)
	a.pages[id] = run
	a.logger.Info("alttext: watching page", "id", id, "url", run.cfg.URL, "stealth", run.cfg.StealthLevel)
	return gen, nil
}

func (a *Annotator) open(ctx context.Context, p PageConfig) (*pageRun, error) {
	tab, err := browser.OpenTab(ctx, a.mgr, p.ID, p.URL, browser.StealthLevel(p.StealthLevel))
	if err != nil {
		return nil, fmt.Errorf("alttext: open %s: %w", p.URL, err)
	}

	run := &pageRun{cfg: p, tab: tab}
	run.obs = observer.New(a.ctx, observer.Config{
		Tab:            tab,
		DebounceWindow: a.cfg.Debounce.Window.Std(),
		DebounceMax:    a.cfg.Debounce.MaxBuffer,
		Logger:         a.logger,
		Handler: func(ctx context.Context, b dom.Batch) {
			run.engine.Dispatch(ctx, b)
		},
	})
	run.engine = annotate.New(run.obs.Document(), annotate.Config{
		PageID:          p.ID,
		PageURL:         p.URL,
		ThumbnailTestID: a.cfg.Annotate.ThumbnailTestID,
		Concurrency:     a.cfg.Annotate.Concurrency,
		Logger:          a.logger,
		OnEvent:         a.deliver,
	})

	if err := run.obs.Start(); err != nil {
		tab.Close()
		return nil, fmt.Errorf("alttext: observe %s: %w", p.URL, err)
	}
	return run, nil
}

func (a *Annotator) deliver(ev report.Event) {
	if err := a.sinkR.Send(context.Background(), ev); err != nil {
		a.logger.Debug("alttext: event delivery incomplete", "event", ev.ID, "error", err)
	}
}

// Unwatch stops annotating page id and closes its tab.
func (a *Annotator) Unwatch(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	run, ok := a.pages[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	a.stopRunLocked(id, run)
	return nil
}

func (a *Annotator) stopRunLocked(id string, run *pageRun) {
	a.closeRun(id, run)
	delete(a.pages, id)
}

// closeRun stops run and folds its counters into retired. a.mu is held.
func (a *Annotator) closeRun(id string, run *pageRun) {
	run.obs.Stop()
	a.logger.Info("alttext: page stopped", "id", id, "batches", run.obs.Seq())
	a.retired.Add(run.engine.Stats())
	if err := run.tab.Close(); err != nil {
		a.logger.Debug("alttext: close tab", "id", id, "error", err)
	}
}

// Snapshot returns the current document of a watched page, overlays
// included, as HTML or Markdown.
func (a *Annotator) Snapshot(ctx context.Context, id string, markdown bool) (string, error) {
	a.mu.Lock()
	run, ok := a.pages[id]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	page, err := run.tab.OuterHTML(ctx)
	if err != nil {
		return "", err
	}
	if !markdown {
		return page, nil
	}
	return toMarkdown(page, run.cfg.URL)
}

// Pages lists the watched pages sorted by id.
func (a *Annotator) Pages() []PageConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PageConfig, 0, len(a.pages))
	for _, r := range a.pages {
		out = append(out, r.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PageStats counts the outcomes of one engine.
type PageStats = annotate.Stats

// Stats holds per-page counters of live engines and the total since start.
type Stats struct {
	Pages map[string]PageStats `json:"pages"`
	Total PageStats            `json:"total"`
}

// Stats returns a snapshot of the counters.
func (a *Annotator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Pages: make(map[string]PageStats, len(a.pages)), Total: a.retired}
	for id, r := range a.pages {
		s := r.engine.Stats()
		st.Pages[id] = s
		st.Total.Add(s)
	}
	return st
}

// Stop stops every observer, the browser and the sinks.
func (a *Annotator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	for id, run := range a.pages {
		a.stopRunLocked(id, run)
	}
	db := a.pagesDB
	a.mu.Unlock()

	a.cancel()
	if db != nil {
		db.Close()
	}
	if err := a.sinkR.Close(); err != nil {
		a.logger.Warn("alttext: close sinks", "error", err)
	}
	a.mgr.Close()
}

// detachAll runs before a recycle: observers flush, engines retire and
// the pages wait for reattachAll.
func (a *Annotator) detachAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	for id, run := range a.pages {
		run.obs.Stop()
		a.retired.Add(run.engine.Stats())
		a.detached = append(a.detached, run.cfg)
		delete(a.pages, id)
	}
}

// reattachAll reopens the detached pages in the fresh browser. Engines
// start over: association ids and the style sample belong to a page load.
func (a *Annotator) reattachAll() {
	a.mu.Lock()
	pending := a.detached
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	for _, p := range pending {
		if err := a.watch(a.ctx, p); err != nil && !errors.Is(err, ErrAlreadyWatching) {
			a.logger.Error("alttext: reattach failed", "id", p.ID, "url", p.URL, "error", err)
		}
	}
	a.mu.Lock()
	a.detached = nil
	a.mu.Unlock()
}
