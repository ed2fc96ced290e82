// Package mcp exposes the engine over the Model Context Protocol so that
// agent hosts can call it as a tool server.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the mcp-go server with a small registration surface.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with the given identity.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version),
	}
}

// RegisterTool registers a tool. Schema options (mcp.WithString and
// friends) describe the arguments to the host.
func (s *Server) RegisterTool(name, description string, handler func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error), opts ...mcp.ToolOption) {
	toolOpts := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	tool := mcp.NewTool(name, toolOpts...)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		return handler(ctx, args)
	})
}

// ServeStdio serves the protocol over stdin/stdout until the host closes
// the stream.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
