package mcpservice

import (
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server bundles what initialize reports with the capabilities the engine
// dispatches to. It is immutable after NewServer returns.
type Server struct {
	info            mcp.ImplementationInfo
	protocolVersion string

	tools   ToolsCapability
	logging LoggingCapability
}

// NewServer builds a Server using functional options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{protocolVersion: mcp.DefaultProtocolVersion}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the name and version reported from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithProtocolVersion sets the protocol version reported from initialize.
// The server reports it regardless of what the client requests.
func WithProtocolVersion(version string) ServerOption {
	return func(s *Server) {
		if version != "" {
			s.protocolVersion = version
		}
	}
}

// WithToolsCapability wires the tool registry.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *Server) { s.tools = cap }
}

// WithLoggingCapability wires logging/setLevel support.
func WithLoggingCapability(cap LoggingCapability) ServerOption {
	return func(s *Server) { s.logging = cap }
}

func (s *Server) Info() mcp.ImplementationInfo { return s.info }
func (s *Server) ProtocolVersion() string      { return s.protocolVersion }

// Tools returns the tools capability, if any.
func (s *Server) Tools() (ToolsCapability, bool) { return s.tools, s.tools != nil }

// Logging returns the logging capability, if any.
func (s *Server) Logging() (LoggingCapability, bool) { return s.logging, s.logging != nil }

// Capabilities is the capabilities object advertised from initialize.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	if s.tools != nil {
		caps.Tools = &mcp.ToolsCapability{}
	}
	if s.logging != nil {
		caps.Logging = &struct{}{}
	}
	return caps
}

// InitializeResult is the complete initialize response. It does not depend
// on the request.
func (s *Server) InitializeResult() *mcp.InitializeResult {
	return &mcp.InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    s.Capabilities(),
		ServerInfo:      s.info,
	}
}
