package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockAliases maps the plural names used in configuration to CDP types.
var blockAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockList is the set of resource types the storefront tab refuses.
// Tile scanning needs only the document and its scripts.
type blockList map[string]bool

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := blockAliases[n]; ok {
			n = string(t)
		}
		bl[strings.ToLower(n)] = true
	}
	return bl
}

func (bl blockList) blocks(t proto.NetworkResourceType) bool {
	return bl[strings.ToLower(string(t))]
}

// blockResources fails storefront requests whose type is in names.
func blockResources(page *rod.Page, names []string) *rod.HijackRouter {
	bl := newBlockList(names)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
