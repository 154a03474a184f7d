package alttext

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/alttext/kit"
	"github.com/hazyhaar/alttext/shield"
)

// Handler returns the HTTP API:
//
//	GET    /health
//	GET    /stats
//	GET    /pages
//	POST   /pages        {"url", "page_id", "stealth_level"}
//	DELETE /pages/{id}
//	GET    /pages/{id}/snapshot[?format=markdown]
//	POST   /annotate     {"html", "page_url", "markdown"}
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger, s.cfg.MaxBody) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		kit.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"live":   s.cfg.Annotator != nil,
		})
	})
	r.Get("/stats", kit.HTTPHandler(s.stats, noBody))
	r.Get("/pages", kit.HTTPHandler(s.listPages, noBody))
	r.Post("/pages", kit.HTTPHandler(s.watchPage, decodeJSON[watchPageReq]))
	r.Delete("/pages/{id}", kit.HTTPHandler(s.unwatchPage, func(r *http.Request) (any, error) {
		return &unwatchPageReq{PageID: chi.URLParam(r, "id")}, nil
	}))
	r.Get("/pages/{id}/snapshot", kit.HTTPHandler(s.snapshot, func(r *http.Request) (any, error) {
		return &snapshotReq{
			PageID:   chi.URLParam(r, "id"),
			Markdown: r.URL.Query().Get("format") == "markdown",
		}, nil
	}))
	r.Post("/annotate", kit.HTTPHandler(s.annotateHTML, decodeJSON[annotateHTMLReq]))
	return r
}

func noBody(*http.Request) (any, error) { return &emptyReq{}, nil }

func decodeJSON[T any](r *http.Request) (any, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
