package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/runner"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

// Environment handed to the bundler.
const (
	EnvProjectDir      = "PROJECT_DIR"
	EnvEntryFile       = "ENTRY_FILE"
	EnvBundleOutputDir = "BUNDLE_OUTPUT_DIR"
	EnvDeployDir       = "DEPLOY_DIR"
	EnvDryRun          = "DRY_RUN"
)

type bundleArgs struct {
	ProjectDir      string `json:"projectDir" jsonschema_description:"Directory containing the Lua project. Absolute, or relative to the server's working directory."`
	EntryFile       string `json:"entryFile,omitempty" jsonschema_description:"Entry file name only (not a path). Defaults to Main.lua."`
	BundleOutputDir string `json:"bundleOutputDir,omitempty" jsonschema_description:"Build output directory. Absolute, or relative to projectDir. Defaults to projectDir/build."`
	DeployDir       string `json:"deployDir,omitempty" jsonschema_description:"Deployment target. Absolute, or relative to projectDir. Defaults to %LOCALAPPDATA%/lua."`
}

// bundleRun is one resolved bundler invocation.
type bundleRun struct {
	ProjectDir      string
	EntryFile       string
	BundleOutputDir string
	DeployDir       string
	DryRun          bool
	// SoftTimeout overrides the runner's default soft deadline when set.
	SoftTimeout time.Duration
}

func (b bundleRun) env() map[string]string {
	env := map[string]string{EnvProjectDir: b.ProjectDir}
	if b.EntryFile != "" {
		env[EnvEntryFile] = b.EntryFile
	}
	if b.BundleOutputDir != "" {
		env[EnvBundleOutputDir] = b.BundleOutputDir
	}
	if b.DeployDir != "" {
		env[EnvDeployDir] = b.DeployDir
	}
	if b.DryRun {
		env[EnvDryRun] = "1"
	}
	return env
}

func (t *Toolset) runBundle(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[bundleArgs]) error {
	a := r.Args()
	base, err := t.baseDir()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	run := bundleRun{
		ProjectDir: resolvePath(base, a.ProjectDir),
		EntryFile:  a.EntryFile,
	}
	if info, err := os.Stat(run.ProjectDir); err != nil || !info.IsDir() {
		return mcpservice.InvalidArgument("projectDir", "project directory not found: %s (provided %q, cwd %s)", run.ProjectDir, a.ProjectDir, base)
	}
	if a.BundleOutputDir != "" {
		run.BundleOutputDir = resolvePath(run.ProjectDir, a.BundleOutputDir)
	}
	if a.DeployDir != "" {
		run.DeployDir = resolvePath(run.ProjectDir, a.DeployDir)
	}

	out, err := t.execBundler(ctx, run)
	if err != nil {
		return err
	}

	lines := []string{
		"project_dir: " + run.ProjectDir,
		"bundle_output_dir: " + orDefault(run.BundleOutputDir, "<default>"),
		"deploy_dir: " + orDefault(run.DeployDir, "<default LocalAppData/lua>"),
		"exit_code: 0",
		"",
		orDefault(strings.TrimSpace(out.Stdout), "<no output>"),
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		lines = append(lines, "", "=== stderr ===", stderr)
	}
	return w.AppendText(strings.Join(lines, "\n"))
}

// execBundler runs the bundler and turns every unsuccessful outcome into an
// ExecutionError. A returned Outcome always exited 0.
func (t *Toolset) execBundler(ctx context.Context, run bundleRun) (*runner.Outcome, error) {
	log := t.log.With(slog.String("project_dir", run.ProjectDir), slog.Bool("dry_run", run.DryRun))

	if t.bundle.Script != "" {
		if _, err := os.Stat(t.bundle.Script); err != nil {
			return nil, &mcpservice.ExecutionError{
				Message: fmt.Sprintf("bundle script missing: %s\nEnsure automations are installed in the server directory.", t.bundle.Script),
				Detail:  map[string]any{"script": t.bundle.Script},
				Err:     err,
			}
		}
	}

	var args []string
	if t.bundle.Script != "" {
		args = append(args, t.bundle.Script)
	}
	cmd := runner.Command{
		Path:        t.bundle.Command,
		Args:        args,
		Dir:         t.bundle.Dir,
		Env:         run.env(),
		SoftTimeout: run.SoftTimeout,
	}
	out, err := t.runner.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.WarnContext(ctx, "tools.bundle.start_failed", slog.String("err", err.Error()))
		return nil, &mcpservice.ExecutionError{
			Message: fmt.Sprintf("failed to run bundler %q: %v", t.bundle.Command, err),
			Detail:  map[string]any{"command": t.bundle.Command, "project_dir": run.ProjectDir},
			Err:     err,
		}
	}

	detail := map[string]any{
		"project_dir":       run.ProjectDir,
		"bundle_output_dir": run.BundleOutputDir,
		"deploy_dir":        run.DeployDir,
		"stdout":            out.Stdout,
		"stderr":            out.Stderr,
		"timed_out":         out.TimedOut,
	}

	if out.TimedOut {
		log.WarnContext(ctx, "tools.bundle.timeout", slog.Bool("hard", out.HardTimeout))
		detail["hard_timeout"] = out.HardTimeout
		soft, hard := t.runner.Deadlines(cmd)
		return nil, &mcpservice.ExecutionError{
			Message: bundleTimeoutMessage(out, soft, hard, run.ProjectDir),
			Detail:  detail,
		}
	}

	if !out.Success() {
		code := -1
		if out.ExitCode != nil {
			code = *out.ExitCode
		}
		detail["exit_code"] = code
		log.InfoContext(ctx, "tools.bundle.failed", slog.Int("exit_code", code))
		return nil, &mcpservice.ExecutionError{
			Message: fmt.Sprintf("Bundle failed (exit %d).\nproject_dir: %s\nbundle_output_dir: %s\ndeploy_dir: %s\nstdout:\n%s\nstderr:\n%s",
				code, run.ProjectDir,
				orDefault(run.BundleOutputDir, "<default>"),
				orDefault(run.DeployDir, "<default>"),
				orDefault(strings.TrimSpace(out.Stdout), "<empty>"),
				orDefault(strings.TrimSpace(out.Stderr), "<empty>")),
			Detail: detail,
		}
	}

	log.InfoContext(ctx, "tools.bundle.ok", slog.Int64("dur_ms", out.Duration.Milliseconds()), slog.Bool("truncated", out.Truncated))
	return out, nil
}

func bundleTimeoutMessage(out *runner.Outcome, soft, hard time.Duration, projectDir string) string {
	head := fmt.Sprintf("Bundle operation timed out after %s.", soft)
	if out.HardTimeout {
		head = fmt.Sprintf("Bundle operation hit the hard limit of %s and was abandoned (soft timeout %s).", hard, soft)
	}
	return fmt.Sprintf("%s\nproject_dir: %s\nThis usually indicates a hung bundler process or a dependency cycle.\nCaptured output before timeout:\nstdout: %s\nstderr: %s",
		head, projectDir,
		orDefault(strings.TrimSpace(out.Stdout), "<none>"),
		orDefault(strings.TrimSpace(out.Stderr), "<none>"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
