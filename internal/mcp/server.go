// Package mcp exposes the symbol-graph queries over the Model Context
// Protocol on stdio.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codegraph-mcp/internal/project"
	"github.com/dshills/codegraph-mcp/internal/registry"
)

const (
	// ServerName is the MCP server name.
	ServerName = "codegraph-mcp"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the project core.
type Server struct {
	mcp     *server.MCPServer
	project *project.Project
	reg     *registry.Registry
	log     *slog.Logger
}

// NewServer creates an MCP server over a loaded project.
func NewServer(p *project.Project, reg *registry.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		mcp:     server.NewMCPServer(ServerName, ServerVersion),
		project: p,
		reg:     reg,
		log:     log,
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(lookupSymbolTool(), s.handleLookupSymbol)
	s.mcp.AddTool(followLocationTool(), s.handleFollowLocation)
	s.mcp.AddTool(cursorInfoTool(), s.handleCursorInfo)
	s.mcp.AddTool(listDependenciesTool(), s.handleListDependencies)
	s.mcp.AddTool(reindexTool(), s.handleReindex)
	s.mcp.AddTool(projectStatusTool(), s.handleProjectStatus)
	s.mcp.AddTool(suspendFileTool(), s.handleSuspendFile)
	s.mcp.AddTool(fixItsTool(), s.handleFixIts)
}
