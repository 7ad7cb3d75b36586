package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/runner"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

type luacheckArgs struct {
	FilePath    string `json:"filePath" jsonschema_description:"Path to the .lua file to check. Absolute, or relative to the server's working directory."`
	CheckBundle bool   `json:"checkBundle,omitempty" jsonschema_description:"Run the bundler in dry-run mode with this file as the entry point instead of a syntax check."`
}

// SyntaxReport is the luacheck answer for a plain syntax check.
type SyntaxReport struct {
	File       string `json:"file"`
	Valid      bool   `json:"valid"`
	LuaVersion string `json:"lua_version"`
	Compiler   string `json:"compiler"`
	ExitCode   int    `json:"exit_code"`
	Stderr     string `json:"stderr,omitempty"`
}

func (t *Toolset) luacheck(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[luacheckArgs]) error {
	a := r.Args()
	base, err := t.baseDir()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	file := resolvePath(base, a.FilePath)
	if info, err := os.Stat(file); err != nil || info.IsDir() {
		return mcpservice.InvalidArgument("filePath", "file not found: %s", file)
	}

	if a.CheckBundle {
		return t.checkBundle(ctx, w, file)
	}
	return t.checkSyntax(ctx, w, file)
}

// bundleCheckTimeout is the soft deadline for dry-run bundle checks, which
// resolve the whole dependency graph.
const bundleCheckTimeout = 30 * time.Second

func (t *Toolset) checkBundle(ctx context.Context, w mcpservice.ToolResponseWriter, file string) error {
	out, err := t.execBundler(ctx, bundleRun{
		ProjectDir:  filepath.Dir(file),
		EntryFile:   filepath.Base(file),
		DryRun:      true,
		SoftTimeout: bundleCheckTimeout,
	})
	if err != nil {
		return err
	}
	text := "Bundle check passed: " + file
	if stdout := strings.TrimSpace(out.Stdout); stdout != "" {
		text += "\n\n" + stdout
	}
	return w.AppendText(text)
}

func (t *Toolset) checkSyntax(ctx context.Context, w mcpservice.ToolResponseWriter, file string) error {
	cand, err := t.compiler.Resolve(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &mcpservice.ExecutionError{Message: err.Error(), Err: err}
	}

	out, err := t.runner.Run(ctx, runner.Command{
		Path: cand.Command,
		Args: []string{"-p", file},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &mcpservice.ExecutionError{
			Message: fmt.Sprintf("failed to run Lua compiler %s: %v", cand, err),
			Detail:  map[string]any{"compiler": cand.Command, "file": file},
			Err:     err,
		}
	}
	if out.TimedOut {
		return &mcpservice.ExecutionError{
			Message: fmt.Sprintf("Syntax check timed out after %s: %s", t.runner.SoftTimeout(), file),
			Detail:  map[string]any{"compiler": cand.Command, "file": file, "timed_out": true, "hard_timeout": out.HardTimeout},
		}
	}

	report := SyntaxReport{
		File:       file,
		Valid:      out.Success(),
		LuaVersion: cand.Tag,
		Compiler:   cand.Command,
		ExitCode:   *out.ExitCode,
		Stderr:     strings.TrimSpace(out.Stderr),
	}
	t.log.DebugContext(ctx, "tools.luacheck", slog.String("file", file), slog.Bool("valid", report.Valid))

	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode syntax report: %w", err)
	}
	return w.AppendText(string(b))
}
