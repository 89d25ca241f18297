package aibadge

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/aibadge/internal/kit"
)

// RegisterMCP registers the aibadge tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerKnownTool(srv)
	e.registerCheckTool(srv)
	e.registerMatchTool(srv)
	e.registerStatsTool(srv)
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

func (e *Engine) logged(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(e.logger, name), kit.Recover())(ep)
}

var idsProperty = map[string]any{
	"type":        "array",
	"items":       map[string]any{"type": "string"},
	"description": "Application identifiers",
}

type idsReq struct {
	IDs []string `json:"ids"`
}

// --- known ---

func (e *Engine) registerKnownTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aibadge_known",
		Description: "Report whether application identifiers are known to carry an AI content disclosure, without any network lookup.",
		InputSchema: inputSchema(map[string]any{"ids": idsProperty}, []string{"ids"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*idsReq)
		out := make([]IDStatus, 0, len(r.IDs))
		for _, id := range r.IDs {
			out = append(out, e.Status(id))
		}
		return map[string]any{"ids": out}, nil
	}

	kit.RegisterMCPTool(srv, tool, e.logged(tool.Name, endpoint), kit.DecodeJSON[idsReq]())
}

// --- check ---

func (e *Engine) registerCheckTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aibadge_check",
		Description: "Confirm unknown application identifiers against their detail pages. Lookups are throttled; the call returns once all are resolved.",
		InputSchema: inputSchema(map[string]any{"ids": idsProperty}, []string{"ids"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*idsReq)
		if len(r.IDs) == 0 {
			return nil, errors.New("ids is empty")
		}
		out, err := e.Check(ctx, r.IDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ids": out}, nil
	}

	kit.RegisterMCPTool(srv, tool, e.logged(tool.Name, endpoint), kit.DecodeJSON[idsReq]())
}

// --- match ---

type matchReq struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

func (e *Engine) registerMatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aibadge_match",
		Description: "Evaluate a detail page (html) or a descriptor heading (text) for an AI content disclosure.",
		InputSchema: inputSchema(map[string]any{
			"html": map[string]any{"type": "string", "description": "Full detail page markup"},
			"text": map[string]any{"type": "string", "description": "Descriptor heading text"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*matchReq)
		switch {
		case r.HTML != "":
			return e.Match([]byte(r.HTML)), nil
		case r.Text != "":
			return e.MatchText(r.Text), nil
		}
		return nil, errors.New("one of html or text is required")
	}

	kit.RegisterMCPTool(srv, tool, e.logged(tool.Name, endpoint), kit.DecodeJSON[matchReq]())
}

// --- stats ---

func (e *Engine) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aibadge_stats",
		Description: "Return cache, queue, registry and journal counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return e.Stats(ctx), nil
	}

	kit.RegisterMCPTool(srv, tool, e.logged(tool.Name, endpoint), kit.DecodeJSON[struct{}]())
}
