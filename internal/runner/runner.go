// Package runner executes external processes under a two-stage deadline.
//
// The soft deadline kills the child (and, on unix, its whole process group).
// The hard deadline is a backstop for children that survive the kill: the
// caller stops waiting and the wait goroutine is abandoned. Either way Run
// returns an Outcome and the scratch files holding the child's output are
// removed before it returns.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSoftTimeout    = 10 * time.Second
	DefaultHardTimeout    = 12 * time.Second
	DefaultMaxOutputBytes = 1 << 20
)

var (
	ErrExecutableNotFound = errors.New("executable not found")
	ErrStart              = errors.New("failed to start process")
	ErrScratch            = errors.New("failed to create scratch file")
)

// Command describes one external process invocation.
type Command struct {
	// Path is an executable name (looked up on PATH) or a path.
	Path string
	Args []string
	// Dir is the working directory. Empty means the gateway's cwd.
	Dir string
	// Env holds overrides layered on top of a copy of the process
	// environment. The gateway's own environment is never mutated.
	Env map[string]string
	// SoftTimeout overrides the runner default when positive. The hard
	// deadline keeps its distance from the soft one.
	SoftTimeout time.Duration
}

// Outcome is the observable result of one Run.
type Outcome struct {
	// ExitCode is nil when the process timed out.
	ExitCode    *int
	Stdout      string
	Stderr      string
	TimedOut    bool
	HardTimeout bool
	// Truncated reports whether either stream was cut to the output cap.
	Truncated bool
	Duration  time.Duration
}

// Success reports a normal zero exit.
func (o *Outcome) Success() bool {
	return o != nil && !o.TimedOut && o.ExitCode != nil && *o.ExitCode == 0
}

// Runner runs commands. It holds no per-call state and is safe for
// concurrent use.
type Runner struct {
	soft       time.Duration
	hard       time.Duration
	scratchDir string
	maxOutput  int64
	log        *slog.Logger

	// kill terminates a child once its soft deadline passes.
	kill func(*exec.Cmd) error
}

// New creates a Runner with the given options.
func New(opts ...Option) *Runner {
	r := &Runner{
		soft:       DefaultSoftTimeout,
		hard:       DefaultHardTimeout,
		scratchDir: os.TempDir(),
		maxOutput:  DefaultMaxOutputBytes,
		log:        slog.Default(),
		kill:       killProcessTree,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SoftTimeout returns the default soft deadline.
func (r *Runner) SoftTimeout() time.Duration { return r.soft }

// Run executes c and blocks until it exits, its hard deadline passes, or ctx
// is done. Timeouts are reported through the Outcome, not as errors.
func (r *Runner) Run(ctx context.Context, c Command) (out *Outcome, err error) {
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExecutableNotFound, c.Path, err)
	}

	soft, hard := r.Deadlines(c)
	log := r.log.With(slog.String("cmd", filepath.Base(path)))

	tag := uuid.NewString()
	stdoutPath := filepath.Join(r.scratchDir, "lmaobox-"+tag+".out")
	stderrPath := filepath.Join(r.scratchDir, "lmaobox-"+tag+".err")

	stdoutFile, err := createScratch(stdoutPath)
	if err != nil {
		return nil, err
	}
	stderrFile, err := createScratch(stderrPath)
	if err != nil {
		stdoutFile.Close()
		os.Remove(stdoutPath)
		return nil, err
	}

	out = &Outcome{}
	start := time.Now()

	defer func() {
		stdoutFile.Close()
		stderrFile.Close()

		var cut bool
		out.Stdout, cut = readTail(stdoutPath, r.maxOutput)
		out.Truncated = out.Truncated || cut
		out.Stderr, cut = readTail(stderrPath, r.maxOutput)
		out.Truncated = out.Truncated || cut

		for _, p := range []string{stdoutPath, stderrPath} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.WarnContext(ctx, "runner.cleanup.err", slog.String("path", p), slog.String("err", rmErr.Error()))
			}
		}
		out.Duration = time.Since(start)
	}()

	softCtx, cancelSoft := context.WithTimeout(ctx, soft)
	defer cancelSoft()

	cmd := exec.CommandContext(softCtx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = MergeEnv(os.Environ(), c.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	// A nil Stdin is connected to the null device.
	cmd.Stdin = nil
	isolateProcess(cmd)
	kill := r.kill
	cmd.Cancel = func() error { return kill(cmd) }

	if err := cmd.Start(); err != nil {
		return out, fmt.Errorf("%w: %s: %w", ErrStart, c.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	hardTimer := time.NewTimer(hard)
	defer hardTimer.Stop()

	select {
	case waitErr := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		if errors.Is(softCtx.Err(), context.DeadlineExceeded) {
			out.TimedOut = true
			log.WarnContext(ctx, "runner.run.soft_timeout", slog.Duration("soft", soft))
			return out, nil
		}
		code, err := exitCode(waitErr)
		if err != nil {
			return out, fmt.Errorf("waiting for %s: %w", c.Path, err)
		}
		out.ExitCode = &code
		log.DebugContext(ctx, "runner.run.ok", slog.Int("exit_code", code), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return out, nil

	case <-hardTimer.C:
		out.TimedOut = true
		out.HardTimeout = true
		log.ErrorContext(ctx, "runner.run.hard_timeout", slog.Duration("hard", hard), slog.Int("pid", cmd.Process.Pid))
		return out, nil

	case <-ctx.Done():
		return out, ctx.Err()
	}
}

// Deadlines returns the soft and hard deadlines Run applies to c.
func (r *Runner) Deadlines(c Command) (soft, hard time.Duration) {
	soft, hard = r.soft, r.hard
	if c.SoftTimeout > 0 {
		hard = c.SoftTimeout + (r.hard - r.soft)
		soft = c.SoftTimeout
	}
	if hard < soft {
		hard = soft
	}
	return soft, hard
}

func createScratch(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	return f, nil
}

// readTail returns at most max bytes from the end of the file at path.
// Read failures yield an empty string.
func readTail(path string, max int64) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false
	}
	truncated := false
	if max > 0 && info.Size() > max {
		if _, err := f.Seek(info.Size()-max, io.SeekStart); err != nil {
			return "", false
		}
		truncated = true
	}
	var r io.Reader = f
	if max > 0 {
		r = io.LimitReader(f, max)
	}
	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return "", truncated
	}
	return string(data), truncated
}

func exitCode(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, waitErr
}

// MergeEnv returns a copy of base with overrides applied. Existing keys are
// replaced in place; new keys are appended in sorted order.
func MergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, len(base), len(base)+len(overrides))
	copy(env, base)
	if len(overrides) == 0 {
		return env
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		kv := k + "=" + overrides[k]
		replaced := false
		for i, existing := range env {
			name, _, ok := strings.Cut(existing, "=")
			if ok && envKeyEqual(name, k) {
				env[i] = kv
				replaced = true
				break
			}
		}
		if !replaced {
			env = append(env, kv)
		}
	}
	return env
}

func envKeyEqual(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
