package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/project"
	"github.com/dshills/codegraph-mcp/internal/registry"
	"github.com/dshills/codegraph-mcp/internal/scheduler"
)

type nopSched struct{}

func (nopSched) Add(*scheduler.Job)   {}
func (nopSched) Abort(*scheduler.Job) {}

func newTestServer(t *testing.T) (*Server, *registry.Registry, *project.Project) {
	t.Helper()
	base := t.TempDir()
	reg, err := registry.Open(filepath.Join(base, "fileids.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.SyncTimeout = config.Duration(time.Hour)

	p, err := project.New(project.Options{
		Path:      filepath.Join(base, "src"),
		Config:    cfg,
		Registry:  reg,
		Scheduler: nopSched{},
	})
	require.NoError(t, err)
	require.NoError(t, p.Load())
	t.Cleanup(p.Unload)

	return NewServer(p, reg, nil), reg, p
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestLookupSymbolEmptyIndex(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleLookupSymbol(context.Background(),
		callRequest("lookup_symbol", map[string]interface{}{"name": "foo"}))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, result), `"count": 0`)
}

func TestLookupSymbolInvalidArgs(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := callRequest("lookup_symbol", nil)
	req.Params.Arguments = "not a map"
	_, err := s.handleLookupSymbol(context.Background(), req)
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestFollowLocationUnknownFile(t *testing.T) {
	s, _, _ := newTestServer(t)

	_, err := s.handleFollowLocation(context.Background(),
		callRequest("follow_location", map[string]interface{}{
			"file": "/not/indexed.cpp", "line": float64(1), "column": float64(1),
		}))
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeUnknownFile, mcpErr.Code)
}

func TestCursorInfoMissingPosition(t *testing.T) {
	s, reg, _ := newTestServer(t)
	_, err := reg.Insert("/src/a.cpp")
	require.NoError(t, err)

	_, herr := s.handleCursorInfo(context.Background(),
		callRequest("cursor_info", map[string]interface{}{
			"file": "/src/a.cpp", "line": float64(0), "column": float64(1),
		}))
	require.Error(t, herr)
}

func TestProjectStatusTool(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleProjectStatus(context.Background(),
		callRequest("project_status", map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, result), "State: loaded")
}

func TestSuspendFileTool(t *testing.T) {
	s, reg, p := newTestServer(t)
	_, err := reg.Insert("/src/a.cpp")
	require.NoError(t, err)

	result, err := s.handleSuspendFile(context.Background(),
		callRequest("suspend_file", map[string]interface{}{"file": "/src/a.cpp"}))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, result), `"suspended": true`)
	assert.Len(t, p.SuspendedFiles(), 1)

	result, err = s.handleSuspendFile(context.Background(),
		callRequest("suspend_file", map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, result), "/src/a.cpp")

	_, err = s.handleSuspendFile(context.Background(),
		callRequest("suspend_file", map[string]interface{}{"clear": true}))
	require.NoError(t, err)
	assert.Empty(t, p.SuspendedFiles())
}

func TestReindexTool(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleReindex(context.Background(),
		callRequest("reindex", map[string]interface{}{"pattern": "nothing-matches"}))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, result), `"jobs_started": 0`)
}

func TestListDependenciesTool(t *testing.T) {
	s, reg, _ := newTestServer(t)
	_, err := reg.Insert("/src/a.h")
	require.NoError(t, err)

	result, derr := s.handleListDependencies(context.Background(),
		callRequest("list_dependencies", map[string]interface{}{"file": "/src/a.h"}))
	require.NoError(t, derr)
	assert.Contains(t, textContent(t, result), `"count": 0`)
}

func TestHelpers(t *testing.T) {
	args := map[string]interface{}{
		"b": true,
		"i": float64(7),
		"s": "x",
	}
	assert.True(t, getBoolDefault(args, "b", false))
	assert.False(t, getBoolDefault(args, "missing", false))
	assert.Equal(t, 7, getIntDefault(args, "i", 0))
	assert.Equal(t, 3, getIntDefault(args, "missing", 3))
	assert.Equal(t, "x", getStringDefault(args, "s", ""))
	assert.Equal(t, "d", getStringDefault(args, "missing", "d"))
}
