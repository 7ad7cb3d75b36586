package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/jsonrpc"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/logctx"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

// Engine dispatches decoded JSON-RPC messages to the server's capabilities
// and maps every outcome onto a response. It holds no per-request state;
// the transport decides ordering.
type Engine struct {
	srv *mcpservice.Server
	log *slog.Logger
}

func NewEngine(srv *mcpservice.Server, opts ...EngineOption) *Engine {
	e := &Engine{
		srv: srv,
		log: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// EngineOption configures a Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(m *Engine) {
		if l != nil {
			m.log = l
		}
	}
}

// HandleRequest answers a call. The returned error is reserved for failures
// to build a response at all; protocol and tool errors are responses.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	switch req.Method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize(ctx, req)
	case string(mcp.PingMethod):
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, req)
	case string(mcp.LoggingSetLevelMethod):
		return e.handleSetLoggingLevel(ctx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil), nil
}

// HandleNotification processes a message that expects no response. Methods
// that are normally calls still run for their side effects; the result is
// discarded. Unknown notifications are ignored.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Notification) error {
	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.InfoContext(ctx, "engine.session.initialized")
		return nil
	case string(mcp.CancelledNotificationMethod):
		// Requests are handled one at a time, so by the time this is read the
		// request it names has already been answered.
		var params mcp.CancelledNotification
		_ = json.Unmarshal(note.Params, &params)
		e.log.DebugContext(ctx, "engine.handle_notification.cancelled", slog.Any("request_id", params.RequestID))
		return nil
	case string(mcp.InitializeMethod), string(mcp.PingMethod), string(mcp.ToolsListMethod),
		string(mcp.ToolsCallMethod), string(mcp.LoggingSetLevelMethod):
		_, err := e.HandleRequest(ctx, &jsonrpc.Request{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         note.Method,
			Params:         note.Params,
		})
		return err
	}
	e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	// The answer does not depend on the params; they are read for the log only.
	var params mcp.InitializeRequest
	if len(req.Params) > 0 && json.Unmarshal(req.Params, &params) == nil {
		log = log.With(
			slog.String("client", params.ClientInfo.Name),
			slog.String("client_version", params.ClientInfo.Version),
			slog.String("requested_protocol", params.ProtocolVersion))
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, e.srv.InitializeResult())
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cap, ok := e.srv.Tools()
	if !ok {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil), nil
	}

	tools, err := cap.ListTools(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(tools)))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	cap, ok := e.srv.Tools()
	if !ok {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil), nil
	}

	res, err := cap.CallTool(ctx, &params)
	if err != nil {
		return e.toolErrorResponse(ctx, log, req.ID, err, start), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

// toolErrorResponse maps a tool failure onto its JSON-RPC code. Only
// unexpected errors are hidden from the client.
func (e *Engine) toolErrorResponse(ctx context.Context, log *slog.Logger, id *jsonrpc.RequestID, err error, start time.Time) *jsonrpc.Response {
	dur := slog.Int64("dur_ms", time.Since(start).Milliseconds())

	var verr *mcpservice.ValidationError
	if errors.As(err, &verr) {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", verr.Message), dur)
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, verr.Message, map[string]any{"field": verr.Field})
	}

	var eerr *mcpservice.ExecutionError
	if errors.As(err, &eerr) {
		log.WarnContext(ctx, "engine.handle_request.tool_failed", slog.String("err", eerr.Message), dur)
		var data any
		if len(eerr.Detail) > 0 {
			data = eerr.Detail
		}
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeToolExecution, eerr.Message, data)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.InfoContext(ctx, "engine.handle_request.cancelled", dur)
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "cancelled", nil)
	}

	log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), dur)
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "internal error", nil)
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	cap, ok := e.srv.Logging()
	if !ok {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil), nil
	}

	if err := cap.SetLevel(ctx, params.Level); err != nil {
		// Invalid level is a client error -> InvalidParams
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("level", string(params.Level)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}
