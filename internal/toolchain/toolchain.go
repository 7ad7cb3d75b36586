// Package toolchain resolves a Lua compiler that is modern enough to check
// scripts written for the Lmaobox API.
//
// Resolution walks an ordered list of resolvers and takes the first Found
// result. A successful resolution is cached for the life of the Probe.
package toolchain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
)

// ErrToolchainUnavailable is returned when no resolver produced a usable
// compiler.
var ErrToolchainUnavailable = errors.New("lua toolchain unavailable")

// Candidate is one compiler the probe may hand out.
type Candidate struct {
	// Command is an absolute path for bundled candidates and a bare
	// command name for PATH candidates.
	Command string
	// Tag is the compatibility tag reported to callers, e.g. "5.4".
	Tag string
	// Bundled marks candidates from the private install directory.
	Bundled bool
}

func (c Candidate) String() string {
	if c.Bundled {
		return fmt.Sprintf("%s (bundled, Lua %s)", c.Command, c.Tag)
	}
	return fmt.Sprintf("%s (Lua %s)", c.Command, c.Tag)
}

// Status is the typed outcome of a single resolver.
type Status int

const (
	StatusNotFound Status = iota
	StatusFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what a resolver reports. Candidate is meaningful only when
// Status is StatusFound.
type Result struct {
	Status    Status
	Candidate Candidate
	// Reason explains a rejection in one line.
	Reason string
	Err    error
}

func found(c Candidate) Result { return Result{Status: StatusFound, Candidate: c} }

func notFound(format string, args ...any) Result {
	return Result{Status: StatusNotFound, Reason: fmt.Sprintf(format, args...)}
}

func failed(err error) Result {
	return Result{Status: StatusError, Reason: err.Error(), Err: err}
}

var (
	versionPattern = regexp.MustCompile(`Lua (\d+\.\d+(?:\.\d+)?)`)
	// luac54, luac5.4, luac55 ...
	nameVersionPattern = regexp.MustCompile(`luac(\d)\.?(\d)`)
)

// parseVersionOutput extracts the version printed by `luac -v`.
func parseVersionOutput(out string) (*version.Version, bool) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return nil, false
	}
	v, err := version.NewVersion(m[1])
	if err != nil {
		return nil, false
	}
	return v, true
}

// versionFromName derives a version from a command name like luac54 or
// luac5.4. Plain luac carries no version.
func versionFromName(name string) (*version.Version, bool) {
	base := strings.TrimSuffix(strings.ToLower(name), ".exe")
	m := nameVersionPattern.FindStringSubmatch(base)
	if m == nil {
		return nil, false
	}
	v, err := version.NewVersion(m[1] + "." + m[2])
	if err != nil {
		return nil, false
	}
	return v, true
}

// tagOf renders the major.minor compatibility tag.
func tagOf(v *version.Version) string {
	segs := v.Segments()
	if len(segs) < 2 {
		return v.String()
	}
	return fmt.Sprintf("%d.%d", segs[0], segs[1])
}
