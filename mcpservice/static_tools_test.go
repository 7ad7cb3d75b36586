package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
)

type symbolArgs struct {
	Symbol string `json:"symbol" jsonschema_description:"Symbol name"`
	Limit  int    `json:"limit,omitempty"`
}

func symbolTool(calls *int) StaticTool {
	return NewTool[symbolArgs]("lookup", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[symbolArgs]) error {
		*calls++
		return w.AppendText("looked up " + r.Args().Symbol)
	}, WithToolDescription("Look a symbol up"))
}

func mustContainer(t *testing.T, defs ...StaticTool) *ToolsContainer {
	t.Helper()
	c, err := NewToolsContainer(defs...)
	if err != nil {
		t.Fatalf("NewToolsContainer: %v", err)
	}
	return c
}

func call(name, args string) *mcp.CallToolRequestReceived {
	req := &mcp.CallToolRequestReceived{Name: name}
	if args != "" {
		req.Arguments = json.RawMessage(args)
	}
	return req
}

func TestNewTool_ReflectsSchema(t *testing.T) {
	var calls int
	c := mustContainer(t, symbolTool(&calls))

	list, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(list))
	}
	tool := list[0]
	if tool.Name != "lookup" || tool.Description != "Look a symbol up" {
		t.Fatalf("unexpected descriptor: %+v", tool)
	}
	if tool.InputSchema.Type != "object" {
		t.Fatalf("expected object schema, got %q", tool.InputSchema.Type)
	}
	if !slices.Equal(tool.InputSchema.Required, []string{"symbol"}) {
		t.Fatalf("expected required [symbol], got %v", tool.InputSchema.Required)
	}
	prop, ok := tool.InputSchema.Properties["symbol"]
	if !ok || prop.Type != "string" || prop.Description != "Symbol name" {
		t.Fatalf("unexpected symbol property: %+v", prop)
	}
	if tool.InputSchema.Properties["limit"].Type != "integer" {
		t.Fatalf("expected integer limit, got %+v", tool.InputSchema.Properties["limit"])
	}
}

func TestCallTool_Success(t *testing.T) {
	var calls int
	c := mustContainer(t, symbolTool(&calls))

	res, err := c.CallTool(context.Background(), call("lookup", `{"symbol":"draw.Color"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" || res.Content[0].Text != "looked up draw.Color" {
		b, _ := json.Marshal(res)
		t.Fatalf("unexpected result: %s", b)
	}
}

func TestCallTool_Validation(t *testing.T) {
	tests := []struct {
		name      string
		req       *mcp.CallToolRequestReceived
		wantField string
		wantMsg   string
	}{
		{name: "missing name", req: call("", `{}`), wantField: "name", wantMsg: "missing required field: name"},
		{name: "nil request", req: nil, wantField: "name", wantMsg: "missing required field: name"},
		{name: "unknown tool", req: call("nope", `{}`), wantField: "name", wantMsg: "unknown tool: nope"},
		{name: "no arguments", req: call("lookup", ""), wantField: "symbol", wantMsg: "missing required argument: symbol"},
		{name: "null arguments", req: call("lookup", "null"), wantField: "symbol", wantMsg: "missing required argument: symbol"},
		{name: "missing key", req: call("lookup", `{"limit":2}`), wantField: "symbol", wantMsg: "missing required argument: symbol"},
		{name: "null value", req: call("lookup", `{"symbol":null}`), wantField: "symbol", wantMsg: "missing required argument: symbol"},
		{name: "empty string", req: call("lookup", `{"symbol":"  "}`), wantField: "symbol", wantMsg: "missing required argument: symbol"},
		{name: "not an object", req: call("lookup", `[1]`), wantField: "arguments", wantMsg: "arguments must be an object"},
		{name: "wrong type", req: call("lookup", `{"symbol":42}`), wantField: "arguments"},
		{name: "unknown field", req: call("lookup", `{"symbol":"x","extra":true}`), wantField: "arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			c := mustContainer(t, symbolTool(&calls))

			_, err := c.CallTool(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("expected field %q, got %q", tt.wantField, verr.Field)
			}
			if tt.wantMsg != "" && verr.Message != tt.wantMsg {
				t.Fatalf("expected message %q, got %q", tt.wantMsg, verr.Message)
			}
			if calls != 0 {
				t.Fatalf("handler ran despite invalid input")
			}
		})
	}
}

func TestCallTool_HandlerErrorPropagates(t *testing.T) {
	boom := &ExecutionError{Message: "build failed", Err: errors.New("exit 1")}
	tool := NewTool[symbolArgs]("fail", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[symbolArgs]) error {
		return boom
	})
	c := mustContainer(t, tool)

	_, err := c.CallTool(context.Background(), call("fail", `{"symbol":"x"}`))
	var eerr *ExecutionError
	if !errors.As(err, &eerr) || eerr != boom {
		t.Fatalf("expected the handler's ExecutionError, got %v", err)
	}
}

func TestNewToolsContainer_RejectsDuplicates(t *testing.T) {
	var calls int
	if _, err := NewToolsContainer(symbolTool(&calls), symbolTool(&calls)); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	var calls int
	c := mustContainer(t, symbolTool(&calls))
	snap := c.Snapshot()
	snap[0].Name = "mutated"
	if c.Snapshot()[0].Name != "lookup" {
		t.Fatal("snapshot aliases container state")
	}
}

func TestToolResponseWriter_FinalizedRejectsWrites(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	if err := w.AppendText("one"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	res := w.Result()
	if err := w.AppendText("two"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 block, got %d", len(res.Content))
	}
}

func TestServer_InitializeResult(t *testing.T) {
	var calls int
	lv := new(slog.LevelVar)
	srv := NewServer(
		WithServerInfo(mcp.ImplementationInfo{Name: "lmaobox-context", Version: "1.0.0"}),
		WithToolsCapability(mustContainer(t, symbolTool(&calls))),
		WithLoggingCapability(NewSlogLevelVarLogging(lv)),
	)

	b, err := json.Marshal(srv.InitializeResult())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"protocolVersion":"2024-11-05","capabilities":{"logging":{},"tools":{}},"serverInfo":{"name":"lmaobox-context","version":"1.0.0"}}`
	if string(b) != want {
		t.Fatalf("unexpected initialize result:\n got %s\nwant %s", b, want)
	}
}

func TestSlogLevelVarLogging(t *testing.T) {
	lv := new(slog.LevelVar)
	l := NewSlogLevelVarLogging(lv)

	cases := map[mcp.LoggingLevel]slog.Level{
		mcp.LoggingLevelDebug:     slog.LevelDebug,
		mcp.LoggingLevelNotice:    slog.LevelInfo,
		mcp.LoggingLevelWarning:   slog.LevelWarn,
		mcp.LoggingLevelEmergency: slog.LevelError,
	}
	for level, want := range cases {
		if err := l.SetLevel(context.Background(), level); err != nil {
			t.Fatalf("SetLevel(%s): %v", level, err)
		}
		if lv.Level() != want {
			t.Fatalf("SetLevel(%s): got %v want %v", level, lv.Level(), want)
		}
	}
	if err := l.SetLevel(context.Background(), "loud"); !errors.Is(err, ErrInvalidLoggingLevel) {
		t.Fatalf("expected ErrInvalidLoggingLevel, got %v", err)
	}
}
