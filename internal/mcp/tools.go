package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegraph-mcp/internal/project"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// MCP error codes.
const (
	ErrorCodeInvalidParams = -32602 // invalid method parameters
	ErrorCodeNotLoaded     = -32001 // project tables are not open
	ErrorCodeUnknownFile   = -32002 // path has no file id
)

// MCPError represents an MCP protocol error.
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

func (s *Server) arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// fileID resolves a path argument to a known file id.
func (s *Server) fileID(args map[string]interface{}, key string) (types.FileID, error) {
	path, _ := args[key].(string)
	if path == "" {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", nil)
	}
	id, err := s.reg.FileID(path)
	if err != nil || id.IsNull() {
		return 0, newMCPError(ErrorCodeUnknownFile, "file is not part of the index", map[string]interface{}{
			"path": path,
		})
	}
	return id, nil
}

// location resolves file/line/column arguments.
func (s *Server) location(args map[string]interface{}) (types.Location, error) {
	id, err := s.fileID(args, "file")
	if err != nil {
		return types.NullLocation, err
	}
	line := getIntDefault(args, "line", 0)
	column := getIntDefault(args, "column", 0)
	if line <= 0 || column <= 0 {
		return types.NullLocation, newMCPError(ErrorCodeInvalidParams, "line and column must be positive", nil)
	}
	return types.NewLocation(id, uint32(line), uint32(column)), nil
}

// cursorJSON renders one sorted cursor with its path resolved.
func (s *Server) cursorJSON(c project.SortedCursor) map[string]interface{} {
	path, _ := s.reg.Path(c.Location.FileID)
	return map[string]interface{}{
		"file":       path,
		"line":       c.Location.Line,
		"column":     c.Location.Column,
		"kind":       c.Kind.String(),
		"definition": c.IsDefinition,
	}
}

func (s *Server) handleLookupSymbol(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}
	if s.project.State() == project.Unloaded {
		return nil, newMCPError(ErrorCodeNotLoaded, "project is not loaded", nil)
	}

	name, _ := args["name"].(string)
	var fileID types.FileID
	if path, _ := args["file"].(string); path != "" {
		fileID, err = s.fileID(args, "file")
		if err != nil {
			return nil, err
		}
	}

	flags := project.SortNone
	if getBoolDefault(args, "declarations_only", false) {
		flags |= project.SortDeclarationOnly
	}
	if getBoolDefault(args, "reverse", false) {
		flags |= project.SortReverse
	}

	sorted := s.project.Sort(s.project.Locations(name, fileID), flags)
	results := make([]map[string]interface{}, 0, len(sorted))
	for _, c := range sorted {
		results = append(results, s.cursorJSON(c))
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"name":    name,
		"count":   len(results),
		"results": results,
	})), nil
}

func (s *Server) handleFollowLocation(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}
	loc, err := s.location(args)
	if err != nil {
		return nil, err
	}

	target, ok := s.project.FollowLocation(loc)
	if !ok {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"found": false,
		})), nil
	}
	path, _ := s.reg.Path(target.FileID)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"found":  true,
		"file":   path,
		"line":   target.Line,
		"column": target.Column,
	})), nil
}

func (s *Server) handleCursorInfo(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}
	loc, err := s.location(args)
	if err != nil {
		return nil, err
	}

	found, info, ok := s.project.CursorInfo(loc)
	if !ok {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"found": false,
		})), nil
	}
	path, _ := s.reg.Path(found.FileID)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"found":        true,
		"file":         path,
		"line":         found.Line,
		"column":       found.Column,
		"symbolName":   info.SymbolName,
		"kind":         info.Kind.String(),
		"symbolLength": info.SymbolLength,
		"definition":   info.IsDefinition(),
		"targets":      len(info.Targets),
		"references":   len(info.References),
	})), nil
}

func (s *Server) handleListDependencies(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}
	fileID, err := s.fileID(args, "file")
	if err != nil {
		return nil, err
	}

	mode := project.DependsOnArg
	if getStringDefault(args, "mode", "depends-on") == "depended-on" {
		mode = project.ArgDependsOn
	}

	var paths []string
	for _, id := range s.project.Dependencies(fileID, mode).Sorted() {
		if path, perr := s.reg.Path(id); perr == nil {
			paths = append(paths, path)
		}
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count": len(paths),
		"files": paths,
	})), nil
}

func (s *Server) handleReindex(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}
	pattern, _ := args["pattern"].(string)
	mode := project.Reindex
	if getBoolDefault(args, "check", false) {
		mode = project.CheckReindex
	}

	started := s.project.ReindexMatching(project.NewMatch(pattern), mode)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"jobs_started": started,
	})), nil
}

func (s *Server) handleProjectStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.project.Status()), nil
}

func (s *Server) handleSuspendFile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}

	if getBoolDefault(args, "clear", false) {
		s.project.ClearSuspendedFiles()
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"suspended": []string{},
		})), nil
	}

	if path, _ := args["file"].(string); path != "" {
		fileID, ferr := s.fileID(args, "file")
		if ferr != nil {
			return nil, ferr
		}
		suspended := s.project.ToggleSuspendFile(fileID)
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"file":      path,
			"suspended": suspended,
		})), nil
	}

	var paths []string
	for _, id := range s.project.SuspendedFiles().Sorted() {
		if path, perr := s.reg.Path(id); perr == nil {
			paths = append(paths, path)
		}
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"suspended": paths,
	})), nil
}

func (s *Server) handleFixIts(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.arguments(request)
	if err != nil {
		return nil, err
	}
	fileID, err := s.fileID(args, "file")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(s.project.FixIts(fileID)), nil
}

// formatJSON formats a map as indented JSON.
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value.
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value.
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
