package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// lookupSymbolTool returns the tool definition for lookup_symbol.
func lookupSymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "lookup_symbol",
		Description: "Resolve a symbol name to its locations in the indexed codebase",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Symbol name; empty returns every non-reference symbol",
				},
				"file": map[string]interface{}{
					"type":        "string",
					"description": "Optional absolute path restricting the search to one file",
				},
				"declarations_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop definitions whose declaration is known",
					"default":     false,
				},
				"reverse": map[string]interface{}{
					"type":        "boolean",
					"description": "Reverse the sort order",
					"default":     false,
				},
			},
			Required: []string{"name"},
		},
	}
}

// followLocationTool returns the tool definition for follow_location.
func followLocationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "follow_location",
		Description: "Resolve the symbol at file:line:column to its best target (definition or declaration)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file":   map[string]interface{}{"type": "string", "description": "Absolute file path"},
				"line":   map[string]interface{}{"type": "integer", "description": "1-based line"},
				"column": map[string]interface{}{"type": "integer", "description": "1-based column"},
			},
			Required: []string{"file", "line", "column"},
		},
	}
}

// cursorInfoTool returns the tool definition for cursor_info.
func cursorInfoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cursor_info",
		Description: "Return the symbol record at or containing file:line:column",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file":   map[string]interface{}{"type": "string", "description": "Absolute file path"},
				"line":   map[string]interface{}{"type": "integer", "description": "1-based line"},
				"column": map[string]interface{}{"type": "integer", "description": "1-based column"},
			},
			Required: []string{"file", "line", "column"},
		},
	}
}

// listDependenciesTool returns the tool definition for list_dependencies.
func listDependenciesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_dependencies",
		Description: "List include-graph edges for a file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file": map[string]interface{}{"type": "string", "description": "Absolute file path"},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "depends-on: TUs including the file; depended-on: files the TU includes",
					"enum":        []string{"depends-on", "depended-on"},
					"default":     "depends-on",
				},
			},
			Required: []string{"file"},
		},
	}
}

// reindexTool returns the tool definition for reindex.
func reindexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex",
		Description: "Schedule re-indexing of files matching a pattern",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Path pattern (regex or substring); empty matches everything",
				},
				"check": map[string]interface{}{
					"type":        "boolean",
					"description": "Only reindex files whose dependencies changed",
					"default":     false,
				},
			},
		},
	}
}

// projectStatusTool returns the tool definition for project_status.
func projectStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_status",
		Description: "Dump project state: lifecycle, jobs, table sizes, suspended files",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// suspendFileTool returns the tool definition for suspend_file.
func suspendFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "suspend_file",
		Description: "Toggle, list, or clear files excluded from re-indexing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file": map[string]interface{}{
					"type":        "string",
					"description": "Absolute file path to toggle; omit to list",
				},
				"clear": map[string]interface{}{
					"type":        "boolean",
					"description": "Clear every suspension",
					"default":     false,
				},
			},
		},
	}
}

// fixItsTool returns the tool definition for fixits.
func fixItsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "fixits",
		Description: "Return the suggested fixes recorded for a file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file": map[string]interface{}{"type": "string", "description": "Absolute file path"},
			},
			Required: []string{"file"},
		},
	}
}
