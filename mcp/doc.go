// Package mcp contains the protocol data types and constants the gateway
// speaks on the wire. It mirrors the subset of the Model Context Protocol
// needed by a tools-only stdio server while keeping the surface Go-friendly
// (exported structs with json tags, string constants for method names).
//
// The package is free of transport logic: the stdio transport and the engine
// marshal these types but implement their own framing and dispatch.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities defined by the protocol. Use
// IsValidLoggingLevel to validate user-provided values.
package mcp
