package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

type symbolArgs struct {
	Symbol string `json:"symbol" jsonschema_description:"Symbol name (e.g. 'draw', 'render.text', 'engine.GetViewAngles')"`
}

func (t *Toolset) getTypes(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[symbolArgs]) error {
	info := t.kb.LookupType(r.Args().Symbol)
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode type info: %w", err)
	}
	t.log.DebugContext(ctx, "tools.get_types", slog.String("symbol", info.Symbol), slog.Bool("found", info.Found))
	return w.AppendText(string(b))
}

func (t *Toolset) getSmartContext(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[symbolArgs]) error {
	info, err := t.kb.LookupContext(r.Args().Symbol)
	if err != nil {
		return &mcpservice.ExecutionError{
			Message: fmt.Sprintf("smart context lookup failed for %q: %v", r.Args().Symbol, err),
			Err:     err,
		}
	}
	t.log.DebugContext(ctx, "tools.get_smart_context", slog.String("symbol", info.Symbol), slog.Bool("found", info.Found))

	if info.Found {
		return w.AppendText(info.Content)
	}
	suggestions := strings.Join(info.Suggestions, "\n")
	if info.DidYouMean != "" {
		return w.AppendText("Did you mean: " + info.DidYouMean + "\n\nSuggestions:\n" + suggestions)
	}
	return w.AppendText("No smart context found. Suggestions:\n" + suggestions)
}
