// Package stdio implements the single-connection MCP transport over
// stdin/stdout. Each input line carries one JSON-RPC message; each call gets
// exactly one response line, written in the order calls were read.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : newline-delimited JSON, no Content-Length headers
//	Concurrency      : strictly sequential; a line is read only after the
//	                   previous one has been answered
//	Diagnostics      : log/slog on stderr; stdout carries responses only
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "lmaobox-context", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
