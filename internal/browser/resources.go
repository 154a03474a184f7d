package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockList maps configured names (plural, as written in the config file)
// to CDP resource types.
type blockList map[proto.NetworkResourceType]bool

var resourceAliases = map[string]proto.NetworkResourceType{
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"scripts":     proto.NetworkResourceTypeScript,
	"images":      proto.NetworkResourceTypeImage,
}

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if t, ok := resourceAliases[n]; ok {
			bl[t] = true
			continue
		}
		bl[proto.NetworkResourceType(strings.ToUpper(n[:1])+n[1:])] = true
	}
	return bl
}

func (bl blockList) blocks(t proto.NetworkResourceType) bool {
	return bl[t]
}

// blockResources fails matching requests on page. The returned router must
// be stopped when the tab closes.
func blockResources(page *rod.Page, names []string) (*rod.HijackRouter, error) {
	bl := newBlockList(names)
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}
