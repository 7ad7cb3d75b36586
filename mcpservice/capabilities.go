package mcpservice

import (
	"context"

	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
)

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	// ListTools returns every tool descriptor, in registration order.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// CallTool validates and executes a tool invocation. Errors are
	// *ValidationError for bad input, *ExecutionError for failures the
	// caller should see in full, and anything else is internal.
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// LoggingCapability adjusts the server's diagnostic log level.
type LoggingCapability interface {
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}
