package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsRPCAndToolGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "test"))

	ctx := WithRPCMessage(context.Background(), &RPCMessage{Method: "tools/call", ID: "7", Type: "call"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "bundle"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	rpc, ok := rec["rpc"].(map[string]any)
	if !ok {
		t.Fatalf("missing rpc group: %s", buf.String())
	}
	if rpc["method"] != "tools/call" || rpc["id"] != "7" {
		t.Fatalf("unexpected rpc group: %v", rpc)
	}
	tool, ok := rec["tool"].(map[string]any)
	if !ok || tool["name"] != "bundle" {
		t.Fatalf("unexpected tool group: %v", rec["tool"])
	}
	if rec["component"] != "test" {
		t.Fatalf("WithAttrs lost the wrapper: %v", rec)
	}
}
