package a2a

import (
	"context"
	"encoding/json"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	logx "woprnotify/pkg/logx"
)

// NewMCPServer exposes every tool currently in the registry as an MCP tool.
//
// Tool names are kept as-is; when two servers declare the same tool name the
// later one (by server name order) is exposed as "<server>_<tool>".
func NewMCPServer(r *Registry, name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	used := map[string]struct{}{}
	for _, srv := range r.Servers() {
		for _, t := range srv.Tools {
			exposed := t.Name
			if _, taken := used[exposed]; taken {
				exposed = srv.Name + "_" + t.Name
			}
			used[exposed] = struct{}{}
			s.AddTool(mcpTool(exposed, t), mcpHandler(r, srv.Name, t.Name))
		}
	}
	return s
}

func mcpTool(exposed string, t Tool) mcp.Tool {
	schema, err := json.Marshal(t.InputSchema)
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(exposed, t.Description, schema)
}

func mcpHandler(r *Registry, serverName, tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := r.Call(ctx, serverName, tool, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out := &mcp.CallToolResult{Content: make([]mcp.Content, 0, len(res.Content))}
		for _, c := range res.Content {
			out.Content = append(out.Content, mcp.NewTextContent(c.Text))
		}
		return out, nil
	}
}

// ServeStdio runs the MCP server on the given streams until ctx is done or
// stdin closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	stdio := server.NewStdioServer(s)
	log.Info("mcp stdio server listening")
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
