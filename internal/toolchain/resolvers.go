package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/runner"
)

// Resolver is one strategy for finding a compiler.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context) Result
}

// BundledNames are the compiler file names looked for in the bundled
// install directory, in priority order.
func BundledNames() []string {
	names := []string{"luac54", "luac5.4", "luac"}
	if runtime.GOOS == "windows" {
		for i, n := range names {
			names[i] = n + ".exe"
		}
	}
	return names
}

// PathCommands are the command names tried on PATH, in priority order.
var PathCommands = []string{"luac5.4", "luac54", "luac5.5", "luac55", "luac"}

// bundledResolver checks the private install directory. Files found there
// are trusted without running them.
type bundledResolver struct {
	dir   string
	names []string
	min   *version.Version
}

func (r *bundledResolver) Name() string { return "bundled" }

func (r *bundledResolver) Resolve(ctx context.Context) Result {
	if r.dir == "" {
		return notFound("no bundled directory configured")
	}
	for _, name := range r.names {
		path := filepath.Join(r.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return failed(err)
		}
		if info.IsDir() {
			continue
		}
		tag := tagOf(r.min)
		if v, ok := versionFromName(name); ok {
			if v.LessThan(r.min) {
				continue
			}
			tag = tagOf(v)
		}
		return found(Candidate{Command: path, Tag: tag, Bundled: true})
	}
	return notFound("no compiler in %s", r.dir)
}

// pathResolver tries each command on PATH with a `-v` liveness call.
type pathResolver struct {
	runner   *runner.Runner
	commands []string
	timeout  time.Duration
	min      *version.Version
}

func (r *pathResolver) Name() string { return "path" }

func (r *pathResolver) Resolve(ctx context.Context) Result {
	var reasons []string
	for _, name := range r.commands {
		res := r.try(ctx, name)
		if res.Status == StatusFound {
			return res
		}
		if err := ctx.Err(); err != nil {
			return failed(err)
		}
		reasons = append(reasons, name+": "+res.Reason)
	}
	return notFound("%s", strings.Join(reasons, "; "))
}

func (r *pathResolver) try(ctx context.Context, name string) Result {
	out, err := r.runner.Run(ctx, runner.Command{
		Path:        name,
		Args:        []string{"-v"},
		SoftTimeout: r.timeout,
	})
	if err != nil {
		if errors.Is(err, runner.ErrExecutableNotFound) {
			return notFound("not on PATH")
		}
		return notFound("%v", err)
	}
	if out.TimedOut {
		return notFound("version query timed out")
	}

	v, ok := parseVersionOutput(out.Stdout + out.Stderr)
	if !ok {
		if v, ok = versionFromName(name); !ok {
			return notFound("could not determine version")
		}
	}
	if v.LessThan(r.min) {
		return notFound("Lua %s is older than %s", v, r.min)
	}
	return found(Candidate{Command: name, Tag: tagOf(v)})
}

// installResolver is the fallback: it runs the installer at most once per
// process and then rescans the bundled directory only.
type installResolver struct {
	installer Installer
	dir       string
	rescan    *bundledResolver

	once sync.Once
	err  error
}

func (r *installResolver) Name() string { return "auto_install" }

func (r *installResolver) Resolve(ctx context.Context) Result {
	if r.installer == nil {
		return notFound("auto-install disabled")
	}
	r.once.Do(func() {
		r.err = r.installer.Install(ctx, r.dir)
	})
	if r.err != nil {
		return failed(r.err)
	}
	return r.rescan.Resolve(ctx)
}
