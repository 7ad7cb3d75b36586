// Package tools implements the gateway's tool handlers: knowledge base
// lookups (get_types, get_smart_context), the external bundler (bundle) and
// Lua syntax checking (luacheck).
package tools

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/kb"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/runner"
	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/toolchain"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
)

// Tool names.
const (
	GetTypes        = "get_types"
	GetSmartContext = "get_smart_context"
	Bundle          = "bundle"
	Luacheck        = "luacheck"
)

// CompilerResolver hands out the Lua compiler used for syntax checks.
// *toolchain.Probe implements it.
type CompilerResolver interface {
	Resolve(ctx context.Context) (toolchain.Candidate, error)
}

// BundleTool locates the external bundler.
type BundleTool struct {
	// Command is the interpreter or executable, e.g. "node".
	Command string
	// Script is passed as the first argument when non-empty.
	Script string
	// Dir is the bundler's working directory (the server root).
	Dir string
}

// Toolset holds the dependencies shared by the tool handlers.
type Toolset struct {
	kb       *kb.KB
	runner   *runner.Runner
	compiler CompilerResolver
	bundle   BundleTool
	log      *slog.Logger
	// workDir anchors relative paths; empty means the process cwd.
	workDir string
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Toolset) {
		if logger != nil {
			t.log = logger
		}
	}
}

// WithWorkingDir sets the directory relative path arguments are resolved
// against.
func WithWorkingDir(dir string) Option {
	return func(t *Toolset) {
		t.workDir = dir
	}
}

// New creates a Toolset.
func New(k *kb.KB, r *runner.Runner, compiler CompilerResolver, bundle BundleTool, opts ...Option) *Toolset {
	t := &Toolset{
		kb:       k,
		runner:   r,
		compiler: compiler,
		bundle:   bundle,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Definitions returns the four tools in registration order. Argument keys
// a tool does not know are ignored.
func (t *Toolset) Definitions() []mcpservice.StaticTool {
	lenient := mcpservice.WithToolAllowAdditionalProperties(true)
	return []mcpservice.StaticTool{
		mcpservice.NewTool(GetTypes, t.getTypes,
			mcpservice.WithToolDescription("Get type information for a Lmaobox Lua API symbol"),
			lenient),
		mcpservice.NewTool(GetSmartContext, t.getSmartContext,
			mcpservice.WithToolDescription("Get curated smart context for a symbol"),
			lenient),
		mcpservice.NewTool(Bundle, t.runBundle,
			mcpservice.WithToolDescription("Bundle a Lua project and deploy it to the Lmaobox lua directory"),
			lenient),
		mcpservice.NewTool(Luacheck, t.luacheck,
			mcpservice.WithToolDescription("Validate Lua file syntax with a Lua 5.4+ compiler, or test that the file bundles without deploying"),
			lenient),
	}
}

// Container builds the fixed tool registry.
func (t *Toolset) Container() (*mcpservice.ToolsContainer, error) {
	return mcpservice.NewToolsContainer(t.Definitions()...)
}

func (t *Toolset) baseDir() (string, error) {
	if t.workDir != "" {
		return t.workDir, nil
	}
	return os.Getwd()
}

// resolvePath expands a leading ~ and anchors relative paths at base.
func resolvePath(base, p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}
