package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/titaniummachine1/Lmaobox-Context-Server/internal/runner"
)

const (
	DefaultMinVersion   = "5.4"
	DefaultProbeTimeout = time.Second
)

// Probe resolves and caches the compiler used by syntax checks.
type Probe struct {
	runner       *runner.Runner
	bundledDir   string
	minVersion   *version.Version
	probeTimeout time.Duration
	installer    Installer
	commands     []string
	log          *slog.Logger

	resolvers []Resolver

	mu       sync.Mutex
	resolved *Candidate
}

// Option configures a Probe.
type Option func(*Probe)

// WithBundledDir sets the private install directory searched first.
func WithBundledDir(dir string) Option {
	return func(p *Probe) { p.bundledDir = dir }
}

// WithProbeTimeout bounds each PATH liveness call.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithInstaller enables the auto-install fallback. Only one process sharing
// a bundled directory should be given an installer.
func WithInstaller(i Installer) Option {
	return func(p *Probe) { p.installer = i }
}

// WithPathCommands replaces the PATH command list.
func WithPathCommands(cmds ...string) Option {
	return func(p *Probe) { p.commands = cmds }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) {
		if logger != nil {
			p.log = logger
		}
	}
}

// New creates a Probe. minVersion is the lowest acceptable Lua version;
// empty means DefaultMinVersion.
func New(r *runner.Runner, minVersion string, opts ...Option) (*Probe, error) {
	if minVersion == "" {
		minVersion = DefaultMinVersion
	}
	min, err := version.NewVersion(minVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum lua version %q: %w", minVersion, err)
	}

	p := &Probe{
		runner:       r,
		minVersion:   min,
		probeTimeout: DefaultProbeTimeout,
		commands:     PathCommands,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	bundled := &bundledResolver{dir: p.bundledDir, names: BundledNames(), min: min}
	p.resolvers = []Resolver{
		bundled,
		&pathResolver{runner: r, commands: p.commands, timeout: p.probeTimeout, min: min},
		&installResolver{installer: p.installer, dir: p.bundledDir, rescan: bundled},
	}
	return p, nil
}

// MinVersion returns the minimum accepted version.
func (p *Probe) MinVersion() string { return p.minVersion.Original() }

// CanInstall reports whether the auto-install fallback is enabled.
func (p *Probe) CanInstall() bool { return p.installer != nil }

// BundledDir returns the private install directory.
func (p *Probe) BundledDir() string { return p.bundledDir }

// Resolve returns a usable compiler or an error wrapping
// ErrToolchainUnavailable.
func (p *Probe) Resolve(ctx context.Context) (Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolved != nil {
		return *p.resolved, nil
	}

	for _, r := range p.resolvers {
		res := r.Resolve(ctx)
		switch res.Status {
		case StatusFound:
			p.log.InfoContext(ctx, "toolchain.resolve.ok",
				slog.String("resolver", r.Name()),
				slog.String("command", res.Candidate.Command),
				slog.String("tag", res.Candidate.Tag))
			c := res.Candidate
			p.resolved = &c
			return c, nil
		case StatusError:
			p.log.WarnContext(ctx, "toolchain.resolve.err", slog.String("resolver", r.Name()), slog.String("err", res.Reason))
		default:
			p.log.DebugContext(ctx, "toolchain.resolve.miss", slog.String("resolver", r.Name()), slog.String("reason", res.Reason))
		}
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
	}

	return Candidate{}, fmt.Errorf("%w: Lua %s or newer is required; install it on PATH or place luac54 in %s",
		ErrToolchainUnavailable, p.minVersion.Original(), p.bundledDir)
}
