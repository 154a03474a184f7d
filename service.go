package alttext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/alttext/internal/urlguard"
	"github.com/hazyhaar/alttext/kit"
)

// ErrNoBrowser is returned by the live endpoints of a Service built without
// an Annotator.
var ErrNoBrowser = errors.New("alttext: live annotation is not enabled")

// ServiceConfig configures NewService.
type ServiceConfig struct {
	// Annotator serves the live endpoints. Nil leaves only offline
	// annotation available.
	Annotator *Annotator

	ThumbnailTestID string

	// AllowPrivateURLs lets watch requests target loopback and private
	// networks.
	AllowPrivateURLs bool

	// MaxBody caps HTTP request bodies. Default: 16MiB.
	MaxBody int64

	Logger *slog.Logger
}

// Service is the request surface shared by the MCP tools and the HTTP API.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger

	annotateHTML kit.Endpoint
	watchPage    kit.Endpoint
	unwatchPage  kit.Endpoint
	listPages    kit.Endpoint
	snapshot     kit.Endpoint
	stats        kit.Endpoint
}

// NewService builds the endpoints.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 16 << 20
	}
	s := &Service{cfg: cfg, logger: cfg.Logger}

	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.WithRequestIDs(), kit.Logging(s.logger, name), kit.Recover())(ep)
	}
	s.annotateHTML = wrap("annotate_html", s.doAnnotateHTML)
	s.watchPage = wrap("watch_page", s.doWatchPage)
	s.unwatchPage = wrap("unwatch_page", s.doUnwatchPage)
	s.listPages = wrap("list_pages", s.doListPages)
	s.snapshot = wrap("snapshot", s.doSnapshot)
	s.stats = wrap("stats", s.doStats)
	return s
}

type annotateHTMLReq struct {
	HTML     string `json:"html"`
	PageURL  string `json:"page_url"`
	Markdown bool   `json:"markdown"`
	Sanitize bool   `json:"sanitize"`
}

func (s *Service) doAnnotateHTML(ctx context.Context, req any) (any, error) {
	r := req.(*annotateHTMLReq)
	if r.HTML == "" {
		return nil, kit.BadRequest(errors.New("html is required"))
	}
	return AnnotateHTML(ctx, r.HTML, OfflineOptions{
		PageURL:         r.PageURL,
		ThumbnailTestID: s.cfg.ThumbnailTestID,
		Markdown:        r.Markdown,
		Sanitize:        r.Sanitize,
		Logger:          s.logger,
	})
}

type watchPageReq struct {
	PageID       string `json:"page_id"`
	URL          string `json:"url"`
	StealthLevel int    `json:"stealth_level"`
}

type watchPageResp struct {
	PageID string `json:"page_id"`
}

func (s *Service) doWatchPage(ctx context.Context, req any) (any, error) {
	r := req.(*watchPageReq)
	if s.cfg.Annotator == nil {
		return nil, &kit.StatusError{Code: http.StatusServiceUnavailable, Err: ErrNoBrowser}
	}
	if r.URL == "" {
		return nil, kit.BadRequest(errors.New("url is required"))
	}
	if !s.cfg.AllowPrivateURLs {
		if err := urlguard.Check(ctx, r.URL); err != nil {
			return nil, kit.BadRequest(err)
		}
	}
	if r.StealthLevel < 0 || r.StealthLevel > 2 {
		return nil, kit.BadRequest(fmt.Errorf("stealth_level %d out of range", r.StealthLevel))
	}
	id, err := s.cfg.Annotator.WatchPage(ctx, PageConfig{ID: r.PageID, URL: r.URL, StealthLevel: r.StealthLevel})
	if errors.Is(err, ErrAlreadyWatching) {
		return nil, &kit.StatusError{Code: http.StatusConflict, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return &watchPageResp{PageID: id}, nil
}

type unwatchPageReq struct {
	PageID string `json:"page_id"`
}

func (s *Service) doUnwatchPage(_ context.Context, req any) (any, error) {
	r := req.(*unwatchPageReq)
	if s.cfg.Annotator == nil {
		return nil, &kit.StatusError{Code: http.StatusServiceUnavailable, Err: ErrNoBrowser}
	}
	if err := s.cfg.Annotator.Unwatch(r.PageID); err != nil {
		if errors.Is(err, ErrUnknownPage) {
			return nil, &kit.StatusError{Code: http.StatusNotFound, Err: err}
		}
		return nil, err
	}
	return &watchPageResp{PageID: r.PageID}, nil
}

type snapshotReq struct {
	PageID   string `json:"page_id"`
	Markdown bool   `json:"markdown"`
}

type snapshotResp struct {
	PageID   string `json:"page_id"`
	HTML     string `json:"html,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

func (s *Service) doSnapshot(ctx context.Context, req any) (any, error) {
	r := req.(*snapshotReq)
	if s.cfg.Annotator == nil {
		return nil, &kit.StatusError{Code: http.StatusServiceUnavailable, Err: ErrNoBrowser}
	}
	out, err := s.cfg.Annotator.Snapshot(ctx, r.PageID, r.Markdown)
	if errors.Is(err, ErrUnknownPage) {
		return nil, &kit.StatusError{Code: http.StatusNotFound, Err: err}
	}
	if err != nil {
		return nil, err
	}
	resp := &snapshotResp{PageID: r.PageID}
	if r.Markdown {
		resp.Markdown = out
	} else {
		resp.HTML = out
	}
	return resp, nil
}

type emptyReq struct{}

func (s *Service) doListPages(context.Context, any) (any, error) {
	if s.cfg.Annotator == nil {
		return []PageConfig{}, nil
	}
	return s.cfg.Annotator.Pages(), nil
}

func (s *Service) doStats(context.Context, any) (any, error) {
	if s.cfg.Annotator == nil {
		return &Stats{Pages: map[string]PageStats{}}, nil
	}
	st := s.cfg.Annotator.Stats()
	return &st, nil
}
