package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/config"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/kb"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/logctx"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/runner"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/toolchain"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/tools"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
	"github.com/titaniummachine1/Lmaobox-Context-Server/stdio"
)

// app is the fully wired gateway.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	level *slog.LevelVar

	kb    *kb.KB
	probe *toolchain.Probe
	tools *tools.Toolset
}

func newApp(cfgPath, levelOverride string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if levelOverride != "" {
		cfg.Log.Level = levelOverride
	}
	lvl, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(lvl)
	log := newLogger(cfg.Log.Format, level, stderr)

	r := runner.New(
		runner.WithTimeouts(cfg.Runner.SoftTimeout, cfg.Runner.HardTimeout),
		runner.WithScratchDir(cfg.Runner.ScratchDir),
		runner.WithMaxOutputBytes(cfg.Runner.MaxOutputBytes),
		runner.WithLogger(log.With(slog.String("component", "runner"))),
	)

	probeOpts := []toolchain.Option{
		toolchain.WithBundledDir(cfg.Toolchain.BundledDir),
		toolchain.WithProbeTimeout(cfg.Toolchain.ProbeTimeout),
		toolchain.WithLogger(log.With(slog.String("component", "toolchain"))),
	}
	if cfg.Toolchain.InstallEnabled() {
		probeOpts = append(probeOpts, toolchain.WithInstaller(&toolchain.HTTPInstaller{
			URL:    cfg.Toolchain.InstallURL,
			Client: &http.Client{Timeout: 2 * time.Minute},
			Logger: log.With(slog.String("component", "installer")),
		}))
	}
	probe, err := toolchain.New(r, cfg.Toolchain.MinVersion, probeOpts...)
	if err != nil {
		return nil, fmt.Errorf("toolchain: %w", err)
	}

	k := kb.New(kb.Config{
		TypesDir:        cfg.KB.TypesDir,
		IndexFile:       cfg.KB.IndexFile,
		SmartContextDir: cfg.KB.SmartContextDir,
	}, kb.WithLogger(log.With(slog.String("component", "kb"))))

	ts := tools.New(k, r, probe, tools.BundleTool{
		Command: cfg.Bundle.Command,
		Script:  cfg.Bundle.Script,
		Dir:     cfg.Server.Root,
	}, tools.WithLogger(log.With(slog.String("component", "tools"))))

	return &app{cfg: cfg, log: log, level: level, kb: k, probe: probe, tools: ts}, nil
}

// newLogger builds the stderr logger. The level is shared with
// logging/setLevel.
func newLogger(format string, level *slog.LevelVar, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

func (a *app) server() (*mcpservice.Server, error) {
	container, err := a.tools.Container()
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: a.cfg.Server.Name, Version: a.cfg.Server.Version}),
		mcpservice.WithProtocolVersion(a.cfg.Server.ProtocolVersion),
		mcpservice.WithToolsCapability(container),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(a.level)),
	), nil
}

// serve runs the stdio loop until EOF or ctx is done.
func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	srv, err := a.server()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	symbols, contexts := a.kb.Stats()
	a.log.InfoContext(ctx, "gateway.start",
		slog.String("root", a.cfg.Server.Root),
		slog.Int("symbols", symbols),
		slog.Int("context_files", contexts),
		slog.Duration("soft_timeout", a.cfg.Runner.SoftTimeout),
		slog.Duration("hard_timeout", a.cfg.Runner.HardTimeout),
		slog.Bool("auto_install", a.probe.CanInstall()))

	if a.cfg.KB.Watch {
		go func() {
			if err := a.kb.Watch(ctx, kb.DefaultReloadDebounce); err != nil {
				a.log.WarnContext(ctx, "kb.watch.err", slog.String("err", err.Error()))
			}
		}()
	}

	h := stdio.NewHandler(srv, stdio.WithIO(in, out), stdio.WithLogger(a.log))
	return h.Serve(ctx)
}
