package alttext

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/alttext/kit"
)

// RegisterMCP registers the alttext tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "alttext_annotate_html",
		Description: "Annotate the images of a saved feed page with their alt text. Returns the annotated HTML (or Markdown), the outcome counters and one event per image.",
		InputSchema: inputSchema(map[string]any{
			"html":     map[string]any{"type": "string", "description": "Page HTML"},
			"page_url": map[string]any{"type": "string", "description": "URL the page was saved from; resolves relative links in Markdown"},
			"markdown": map[string]any{"type": "boolean", "description": "Return Markdown instead of HTML"},
			"sanitize": map[string]any{"type": "boolean", "description": "Strip scripts and unknown markup from the result"},
		}, []string{"html"}),
	}, s.annotateHTML, kit.DecodeArgs[annotateHTMLReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "alttext_watch_page",
		Description: "Open a page in the browser and annotate images as they are inserted.",
		InputSchema: inputSchema(map[string]any{
			"url":           map[string]any{"type": "string", "description": "Page URL"},
			"page_id":       map[string]any{"type": "string", "description": "Identifier carried by events; generated when empty"},
			"stealth_level": map[string]any{"type": "integer", "description": "0 plain, 1 stealth, 2 headful", "minimum": 0, "maximum": 2},
		}, []string{"url"}),
	}, s.watchPage, kit.DecodeArgs[watchPageReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "alttext_unwatch_page",
		Description: "Stop annotating a watched page and close its tab.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Watched page id"},
		}, []string{"page_id"}),
	}, s.unwatchPage, kit.DecodeArgs[unwatchPageReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "alttext_list_pages",
		Description: "List the watched pages.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.listPages, kit.DecodeArgs[emptyReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "alttext_snapshot",
		Description: "Current document of a watched page, overlays included, as HTML or Markdown.",
		InputSchema: inputSchema(map[string]any{
			"page_id":  map[string]any{"type": "string", "description": "Watched page id"},
			"markdown": map[string]any{"type": "boolean", "description": "Return Markdown instead of HTML"},
		}, []string{"page_id"}),
	}, s.snapshot, kit.DecodeArgs[snapshotReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "alttext_stats",
		Description: "Outcome counters per watched page and in total.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.stats, kit.DecodeArgs[emptyReq])
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
