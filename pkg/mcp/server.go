// Package mcp exposes rift to MCP clients: differential exploration, bundle
// replay, validation and schema export as agent-callable tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with rift tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"rift",
		version,
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(
		mcp.NewTool("rift/validate",
			mcp.WithDescription("Validate an OpenAPI document or a rift run configuration YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the OpenAPI or rift.yaml file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("rift/explore",
			mcp.WithDescription("Run a differential exploration of two API implementations and report mismatches"),
			mcp.WithString("spec", mcp.Required(), mcp.Description("Path to the OpenAPI 3 document")),
			mcp.WithString("config", mcp.Required(), mcp.Description("Path to the rift.yaml run configuration")),
			mcp.WithString("out", mcp.Description("Output directory for bundles and report (default .rift/runs/<run-id>)")),
			mcp.WithNumber("cases", mcp.Description("Cases per operation (overrides config)")),
			mcp.WithNumber("workers", mcp.Description("Concurrent steps (default 4)")),
		),
		HandleExplore,
	)

	s.AddTool(
		mcp.NewTool("rift/replay",
			mcp.WithDescription("Replay stored mismatch bundles against current targets and classify each outcome"),
			mcp.WithString("in", mcp.Required(), mcp.Description("Run directory or bundle directory to replay")),
			mcp.WithString("config", mcp.Required(), mcp.Description("Path to the rift.yaml run configuration")),
			mcp.WithString("out", mcp.Description("Directory for fresh bundles (default: the input directory)")),
		),
		HandleReplay,
	)

	s.AddTool(
		mcp.NewTool("rift/schema",
			mcp.WithDescription("Export the rift run configuration JSON Schema"),
		),
		HandleSchema,
	)

	return s
}
