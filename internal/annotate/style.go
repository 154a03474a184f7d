package annotate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/alttext/dom"
)

// ContentSelector selects the text elements the overlay style is sampled
// from.
const ContentSelector = "main article span"

// styleSampler samples the page text style once. After the first success the
// cached value is returned verbatim, even if the page theme changes later.
type styleSampler struct {
	mu     sync.Mutex
	cached *dom.Style
	logger *slog.Logger
}

// Sample returns the cached style, sampling it first if needed. ok is false
// when no content element reports a colour; the caller renders unstyled.
func (s *styleSampler) Sample(ctx context.Context, doc dom.Document) (style dom.Style, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return *s.cached, true
	}

	els, err := doc.QueryAll(ctx, ContentSelector)
	if err != nil {
		s.logger.Warn("annotate: style sample query failed", "selector", ContentSelector, "error", err)
		return dom.Style{}, false
	}
	if len(els) == 0 {
		s.logger.Info("annotate: no content element to sample style from", "selector", ContentSelector)
		return dom.Style{}, false
	}

	for _, el := range els {
		st, err := el.ComputedStyle(ctx)
		if err != nil {
			s.logger.Debug("annotate: computed style failed", "node", el.String(), "error", err)
			continue
		}
		if st.Color != "" {
			s.cached = &st
			s.logger.Debug("annotate: text style sampled",
				"color", st.Color, "font_family", st.FontFamily, "font_size", st.FontSize)
			return st, true
		}
	}

	s.logger.Error("annotate: no content element has a color", "candidates", len(els))
	return dom.Style{}, false
}
