package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/jsonrpc"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

type echoArgs struct {
	Symbol string `json:"symbol"`
}

type testEnv struct {
	engine *Engine
	level  *slog.LevelVar
	calls  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{level: new(slog.LevelVar)}

	tools, err := mcpservice.NewToolsContainer(
		mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			env.calls++
			return w.AppendText("echo " + r.Args().Symbol)
		}),
		mcpservice.NewTool[echoArgs]("explode", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return &mcpservice.ExecutionError{
				Message: "build timed out after 10s",
				Detail:  map[string]any{"timedOut": true},
			}
		}),
		mcpservice.NewTool[echoArgs]("broken", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return errors.New("secret detail")
		}),
	)
	require.NoError(t, err)

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "lmaobox-context", Version: "1.0.0"}),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(env.level)),
	)
	env.engine = NewEngine(srv, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return env
}

func request(t *testing.T, id any, method string, params string) *jsonrpc.Request {
	t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func (env *testEnv) do(t *testing.T, req *jsonrpc.Request) *jsonrpc.Response {
	t.Helper()
	resp, err := env.engine.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestInitialize_IgnoresParams(t *testing.T) {
	env := newTestEnv(t)

	want := `{"protocolVersion":"2024-11-05","capabilities":{"logging":{},"tools":{}},"serverInfo":{"name":"lmaobox-context","version":"1.0.0"}}`
	for _, params := range []string{"", `{}`, `{"protocolVersion":"1999-01-01","clientInfo":{"name":"x","version":"9"}}`, `[1,2]`} {
		resp := env.do(t, request(t, 1, "initialize", params))
		require.Nil(t, resp.Error, "params %q", params)
		assert.JSONEq(t, want, string(resp.Result), "params %q", params)
	}
}

func TestToolsList(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, request(t, "a", "tools/list", ""))
	require.Nil(t, resp.Error)

	var res mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, []string{"symbol"}, tool.InputSchema.Required)
	}
	assert.ElementsMatch(t, []string{"echo", "explode", "broken"}, names)
	assert.Equal(t, "a", resp.ID.String())
}

func TestToolsCall_Success(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, request(t, 7, "tools/call", `{"name":"echo","arguments":{"symbol":"draw.Color"}}`))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"echo draw.Color"}]}`, string(resp.Result))
	assert.Equal(t, 1, env.calls)
}

func TestToolsCall_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		code    jsonrpc.ErrorCode
		message string
	}{
		{"missing name", `{"arguments":{"symbol":"x"}}`, jsonrpc.ErrorCodeInvalidParams, "missing required field: name"},
		{"unknown tool", `{"name":"nope","arguments":{}}`, jsonrpc.ErrorCodeInvalidParams, "unknown tool: nope"},
		{"missing argument", `{"name":"echo","arguments":{}}`, jsonrpc.ErrorCodeInvalidParams, "missing required argument: symbol"},
		{"blank argument", `{"name":"echo","arguments":{"symbol":"  "}}`, jsonrpc.ErrorCodeInvalidParams, "missing required argument: symbol"},
		{"params not object", `"echo"`, jsonrpc.ErrorCodeInvalidParams, "invalid params"},
		{"execution failure", `{"name":"explode","arguments":{"symbol":"x"}}`, jsonrpc.ErrorCodeToolExecution, "build timed out after 10s"},
		{"internal failure", `{"name":"broken","arguments":{"symbol":"x"}}`, jsonrpc.ErrorCodeInternalError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			resp := env.do(t, request(t, 3, "tools/call", tt.params))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.message, resp.Error.Message)
			assert.Nil(t, resp.Result)
			assert.Equal(t, 0, env.calls)
		})
	}
}

func TestToolsCall_ErrorData(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, request(t, 1, "tools/call", `{"name":"explode","arguments":{"symbol":"x"}}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, map[string]any{"timedOut": true}, resp.Error.Data)

	resp = env.do(t, request(t, 2, "tools/call", `{"name":"echo","arguments":{}}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, map[string]any{"field": "symbol"}, resp.Error.Data)

	resp = env.do(t, request(t, 3, "tools/call", `{"name":"broken","arguments":{"symbol":"x"}}`))
	require.NotNil(t, resp.Error)
	assert.NotContains(t, resp.Error.Message, "secret")
	assert.Nil(t, resp.Error.Data)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, request(t, 9, "resources/list", ""))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: resources/list", resp.Error.Message)
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, request(t, 1, "ping", ""))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))
}

func TestSetLevel(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, request(t, 1, "logging/setLevel", `{"level":"debug"}`))
	require.Nil(t, resp.Error)
	assert.Equal(t, slog.LevelDebug, env.level.Level())

	resp = env.do(t, request(t, 2, "logging/setLevel", `{"level":"loud"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
	assert.Equal(t, slog.LevelDebug, env.level.Level())
}

func TestSetLevel_Unsupported(t *testing.T) {
	e := NewEngine(mcpservice.NewServer(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	resp, err := e.HandleRequest(context.Background(), request(t, 1, "logging/setLevel", `{"level":"debug"}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, resp.Error.Code)
}

func TestHandleNotification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.HandleNotification(ctx, &jsonrpc.Notification{Method: "notifications/initialized"}))
	require.NoError(t, env.engine.HandleNotification(ctx, &jsonrpc.Notification{Method: "notifications/cancelled", Params: json.RawMessage(`{"requestId":4}`)}))
	require.NoError(t, env.engine.HandleNotification(ctx, &jsonrpc.Notification{Method: "notifications/whatever"}))
	assert.Equal(t, 0, env.calls)

	// A call sent without an id still runs.
	require.NoError(t, env.engine.HandleNotification(ctx, &jsonrpc.Notification{
		Method: "tools/call",
		Params: json.RawMessage(`{"name":"echo","arguments":{"symbol":"x"}}`),
	}))
	assert.Equal(t, 1, env.calls)
}
