package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/engine"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/jsonrpc"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/logctx"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

// ErrAlreadyServed is returned when Serve is called a second time.
var ErrAlreadyServed = errors.New("stdio: handler already served")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the
// engine built from the provided server.
type Handler struct {
	srv *mcpservice.Server
	r   io.Reader
	w   io.Writer
	l   *slog.Logger

	served atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv *mcpservice.Server, opts ...Option) *Handler {
	h := &Handler{
		srv: srv,
		r:   os.Stdin,
		w:   os.Stdout,
		l:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type readResult struct {
	line []byte
	err  error
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled; both are a clean shutdown and return nil. The only error
// returned after startup is a failed write, which means the peer is gone.
//
// A single goroutine reads lines, but it waits for the loop to finish with
// one line before reading the next, so calls are handled strictly in order.
// The goroutine exists so that cancellation does not wait on a blocked read.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l))
	lines := make(chan readResult)
	next := make(chan struct{})
	go h.readLoop(ctx, bufio.NewReader(h.r), lines, next)

	h.l.InfoContext(ctx, "stdio.serve.start")
	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", "cancelled"))
			return nil
		case res := <-lines:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					h.l.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", "eof"))
					return nil
				}
				h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", res.err.Error()))
				return fmt.Errorf("stdio: read: %w", res.err)
			}

			if err := h.handleLine(ctx, eng, res.line); err != nil {
				h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
				return err
			}

			select {
			case next <- struct{}{}:
			case <-ctx.Done():
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, br *bufio.Reader, out chan<- readResult, next <-chan struct{}) {
	for {
		line, err := readMessage(br)
		select {
		case out <- readResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
		select {
		case <-next:
		case <-ctx.Done():
			return
		}
	}
}

// readMessage returns the next non-blank line with surrounding whitespace
// removed. A final line without a trailing newline is still returned; the
// following call reports io.EOF.
func readMessage(br *bufio.Reader) ([]byte, error) {
	for {
		raw, err := br.ReadBytes('\n')
		line := bytes.TrimSpace(raw)
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// handleLine decodes and dispatches one line. Only write failures are
// returned.
func (h *Handler) handleLine(ctx context.Context, eng *engine.Engine, line []byte) error {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		var de *jsonrpc.DecodeError
		if !errors.As(err, &de) || !de.Respondable() {
			h.l.WarnContext(ctx, "stdio.decode.drop", slog.String("err", err.Error()), slog.Int("len", len(line)))
			return nil
		}
		h.l.WarnContext(ctx, "stdio.decode.fail", slog.String("err", err.Error()), slog.String("id", de.ID.String()))
		return h.write(jsonrpc.NewErrorResponse(de.ID, de.Code, decodeErrorMessage(de.Code), nil))
	}

	switch m := msg.(type) {
	case *jsonrpc.Reply:
		h.l.DebugContext(ctx, "stdio.reply.ignored", slog.String("id", m.ID.String()))
		return nil
	case *jsonrpc.Notification:
		h.dispatchNotification(ctx, eng, m)
		return nil
	case *jsonrpc.Call:
		return h.write(h.dispatchCall(ctx, eng, m))
	}
	return nil
}

func decodeErrorMessage(code jsonrpc.ErrorCode) string {
	if code == jsonrpc.ErrorCodeParseError {
		return "Parse error"
	}
	return "Invalid Request"
}

// dispatchCall always yields a response carrying the call's id, including
// when the engine panics.
func (h *Handler) dispatchCall(ctx context.Context, eng *engine.Engine, call *jsonrpc.Call) (resp *jsonrpc.Response) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: call.Method, ID: call.ID.String(), Type: "call"})

	defer func() {
		if r := recover(); r != nil {
			h.l.ErrorContext(ctx, "stdio.dispatch.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			resp = jsonrpc.NewErrorResponse(call.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
	}()

	resp, err := eng.HandleRequest(ctx, call.Request())
	if err != nil || resp == nil {
		if err != nil {
			h.l.ErrorContext(ctx, "stdio.dispatch.fail", slog.String("err", err.Error()))
		}
		return jsonrpc.NewErrorResponse(call.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return resp
}

func (h *Handler) dispatchNotification(ctx context.Context, eng *engine.Engine, note *jsonrpc.Notification) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	defer func() {
		if r := recover(); r != nil {
			h.l.ErrorContext(ctx, "stdio.dispatch.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := eng.HandleNotification(ctx, note); err != nil {
		h.l.WarnContext(ctx, "stdio.notification.fail", slog.String("err", err.Error()))
	}
}

// write emits one response line. The whole line goes out in a single Write
// so a response is never interleaved with anything else on stdout.
func (h *Handler) write(resp *jsonrpc.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		h.l.Error("stdio.encode.fail", slog.String("err", err.Error()))
		b, err = json.Marshal(jsonrpc.NewErrorResponse(resp.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil))
		if err != nil {
			return fmt.Errorf("stdio: encode response: %w", err)
		}
	}
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("stdio: write response: %w", err)
	}
	return nil
}
