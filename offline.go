package alttext

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/idgen"
	"github.com/hazyhaar/alttext/internal/annotate"
	"github.com/hazyhaar/alttext/internal/htmldom"
	"github.com/hazyhaar/alttext/report"
)

// OfflinePageID is the page id carried by events of AnnotateHTML.
const OfflinePageID = "offline"

// OfflineOptions tunes AnnotateHTML.
type OfflineOptions struct {
	PageURL         string
	ThumbnailTestID string
	// Markdown renders the annotated page as Markdown instead of HTML.
	Markdown bool
	// Sanitize strips scripts, handlers and unknown markup from the
	// annotated page before it is returned. Overlays survive.
	Sanitize bool
	Logger   *slog.Logger
}

// OfflineResult is the outcome of AnnotateHTML.
type OfflineResult struct {
	HTML     string         `json:"html,omitempty"`
	Markdown string         `json:"markdown,omitempty"`
	Stats    annotate.Stats `json:"stats"`
	Events   []report.Event `json:"events"`
}

var mdConverter = sync.OnceValue(func() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
})

var sanitizer = sync.OnceValue(func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "role", "aria-hidden", "data-testid", annotate.AssociationAttr).Globally()
	p.AllowAttrs("draggable").OnElements("img")
	p.AllowStyles("color", "font-family", "font-size", "font-style", "padding").Globally()
	return p
})

// AnnotateHTML parses a saved page and annotates every image in it, as if
// the whole page had been inserted in a single batch, in document order.
func AnnotateHTML(ctx context.Context, page string, opts OfflineOptions) (*OfflineResult, error) {
	doc, err := htmldom.ParseString(page)
	if err != nil {
		return nil, err
	}

	res := &OfflineResult{Events: []report.Event{}}
	var mu sync.Mutex
	engine := annotate.New(doc, annotate.Config{
		PageID:          OfflinePageID,
		PageURL:         opts.PageURL,
		ThumbnailTestID: opts.ThumbnailTestID,
		Logger:          opts.Logger,
		OnEvent: func(ev report.Event) {
			mu.Lock()
			res.Events = append(res.Events, ev)
			mu.Unlock()
		},
	})

	engine.Dispatch(ctx, dom.Batch{
		ID:      idgen.New(),
		PageID:  OfflinePageID,
		PageURL: opts.PageURL,
		Seq:     1,
		Records: []dom.Record{{Added: doc.Images()}},
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Stats = engine.Stats()

	out := doc.HTML()
	if opts.Sanitize {
		out = sanitizer().Sanitize(out)
	}
	if !opts.Markdown {
		res.HTML = out
		return res, nil
	}
	if res.Markdown, err = toMarkdown(out, opts.PageURL); err != nil {
		return nil, err
	}
	return res, nil
}

// toMarkdown renders an annotated page; pageURL, when set, resolves
// relative links.
func toMarkdown(page, pageURL string) (string, error) {
	var (
		md  string
		err error
	)
	if pageURL != "" {
		md, err = mdConverter().ConvertString(page, converter.WithDomain(pageURL))
	} else {
		md, err = mdConverter().ConvertString(page)
	}
	if err != nil {
		return "", fmt.Errorf("alttext: markdown: %w", err)
	}
	return md, nil
}
