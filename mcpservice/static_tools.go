package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest carries the decoded arguments of one tool call.
type ToolRequest[A any] struct {
	args A
}

func (r *ToolRequest[A]) Args() A { return r.args }

// NewTool constructs a writer-based tool with typed input A. The input
// schema is reflected from A once, here.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if hasArguments(req.Arguments) {
			dec := json.NewDecoder(bytes.NewReader(req.Arguments))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&a); err != nil {
				return nil, InvalidArgument("arguments", "invalid arguments: %v", err)
			}
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{args: a}
		if err := fn(ctx, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer is a fixed set of tools. It is built once and never
// changes, so it needs no locking.
type ToolsContainer struct {
	tools    []mcp.Tool
	handlers map[string]ToolHandler
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// NewToolsContainer registers defs in order. Duplicate or empty names are an
// error.
func NewToolsContainer(defs ...StaticTool) (*ToolsContainer, error) {
	st := &ToolsContainer{
		tools:    make([]mcp.Tool, 0, len(defs)),
		handlers: make(map[string]ToolHandler, len(defs)),
	}
	for _, d := range defs {
		name := d.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", name)
		}
		if _, dup := st.handlers[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		st.tools = append(st.tools, d.Descriptor)
		st.handlers[name] = d.Handler
	}
	return st, nil
}

// Snapshot returns a copy of the tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// ListTools implements ToolsCapability.
func (st *ToolsContainer) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return st.Snapshot(), nil
}

// CallTool implements ToolsCapability. Required arguments are checked
// against the descriptor before the handler runs.
func (st *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, &ValidationError{Field: "name", Message: "missing required field: name"}
	}
	h, ok := st.handlers[req.Name]
	if !ok {
		return nil, &ValidationError{Field: "name", Message: "unknown tool: " + req.Name}
	}
	if err := checkRequired(st.descriptor(req.Name).InputSchema, req.Arguments); err != nil {
		return nil, err
	}
	return h(ctx, req)
}

func (st *ToolsContainer) descriptor(name string) mcp.Tool {
	for _, t := range st.tools {
		if t.Name == name {
			return t
		}
	}
	return mcp.Tool{}
}

// checkRequired rejects arguments that omit a required key, set it to null,
// or set it to an empty string.
func checkRequired(schema mcp.ToolInputSchema, raw json.RawMessage) error {
	var args map[string]any
	if hasArguments(raw) {
		if err := json.Unmarshal(raw, &args); err != nil {
			return InvalidArgument("arguments", "arguments must be an object")
		}
	}
	for _, key := range schema.Required {
		v, ok := args[key]
		if !ok || v == nil {
			return MissingArgument(key)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return MissingArgument(key)
		}
	}
	return nil
}

func hasArguments(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
