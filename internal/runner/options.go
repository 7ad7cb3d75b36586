package runner

import (
	"log/slog"
	"time"
)

// Option configures a Runner.
type Option func(*Runner)

// WithTimeouts sets the soft and hard deadlines. A hard deadline shorter than
// the soft one is raised to match it.
func WithTimeouts(soft, hard time.Duration) Option {
	return func(r *Runner) {
		if soft > 0 {
			r.soft = soft
		}
		if hard > 0 {
			r.hard = hard
		}
		if r.hard < r.soft {
			r.hard = r.soft
		}
	}
}

// WithScratchDir sets where per-call output files are created.
func WithScratchDir(dir string) Option {
	return func(r *Runner) {
		if dir != "" {
			r.scratchDir = dir
		}
	}
}

// WithMaxOutputBytes caps how much of each stream is read back.
func WithMaxOutputBytes(n int64) Option {
	return func(r *Runner) {
		r.maxOutput = n
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.log = logger
		}
	}
}
