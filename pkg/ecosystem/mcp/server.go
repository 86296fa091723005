package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with fleetcheck tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"fleetcheck",
		version,
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(
		mcp.NewTool("fleetcheck/validate",
			mcp.WithDescription("Validate a fleetcheck checklist or inventory YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the checklist or inventory YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("fleetcheck/run",
			mcp.WithDescription("Run a checklist against an inventory (defaults to replay mode when a scenario is given)"),
			mcp.WithString("checklist", mcp.Required(), mcp.Description("Path to the checklist YAML file")),
			mcp.WithString("inventory", mcp.Required(), mcp.Description("Path to the inventory YAML file")),
			mcp.WithString("scenario", mcp.Description("Path to a replay scenario YAML file (optional; omit to execute for real)")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("fleetcheck/schema",
			mcp.WithDescription("Export fleetcheck JSON Schema (checklist or inventory)"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'checklist' or 'inventory'")),
		),
		HandleSchema,
	)

	return s
}
