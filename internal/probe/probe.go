// Package probe performs side-effect free lookups for tool executables.
//
// Every lookup returns a path and a found flag; filesystem and permission
// errors are treated as absence and never surface to the caller.
package probe

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// VersionSegment marks a relative path segment that is replaced by the
// highest dot-separated integer version directory found at that level.
const VersionSegment = "{version}"

const defaultQueryTimeout = 15 * time.Second

// Prober bundles the environment and process hooks used by lookups.
type Prober struct {
	Env      Env
	LookPath func(file string) (string, error)
	// Query runs an installer-inventory tool and returns its stdout.
	Query        func(ctx context.Context, tool string, args []string) ([]byte, error)
	QueryTimeout time.Duration
}

// New returns a Prober backed by the process environment.
func New(env Env) *Prober {
	if env == nil {
		env = OSEnv{}
	}
	return &Prober{
		Env:          env,
		LookPath:     exec.LookPath,
		Query:        runQuery,
		QueryTimeout: defaultQueryTimeout,
	}
}

func runQuery(ctx context.Context, tool string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, tool, args...).Output()
}

// OnPath searches the command search path for executable.
func (p *Prober) OnPath(executable string) (string, bool) {
	if executable == "" || p.LookPath == nil {
		return "", false
	}
	path, err := p.LookPath(executable)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	if !IsFile(abs) {
		return "", false
	}
	return abs, true
}

// FromEnv reads varName, joins it with each suffix in order and returns the
// first existing file.
func (p *Prober) FromEnv(varName string, suffixes ...string) (string, bool) {
	if varName == "" || p.Env == nil {
		return "", false
	}
	root, ok := p.Env.Lookup(varName)
	root = strings.TrimSpace(root)
	if !ok || root == "" {
		return "", false
	}
	return p.UnderRoot(root, suffixes...)
}

// UnderRoot checks each relative variant under root in order; first hit wins.
// Variants may contain VersionSegment.
func (p *Prober) UnderRoot(root string, variants ...string) (string, bool) {
	if strings.TrimSpace(root) == "" {
		return "", false
	}
	for _, rel := range variants {
		candidate, ok := Expand(root, rel)
		if !ok {
			continue
		}
		if IsFile(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				continue
			}
			return abs, true
		}
	}
	return "", false
}

// ViaInstallerQuery runs the inventory tool at queryTool (when it exists) and
// parses its first non-empty output line as a path. The path must exist.
func (p *Prober) ViaInstallerQuery(ctx context.Context, queryTool string, args []string) (string, bool) {
	if queryTool == "" || p.Query == nil || !IsFile(queryTool) {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := p.Query(ctx, queryTool, args)
	if err != nil {
		return "", false
	}
	line := firstNonEmptyLine(string(out))
	if line == "" {
		return "", false
	}
	if _, err := os.Stat(line); err != nil {
		return "", false
	}
	return filepath.Clean(line), true
}

// Expand joins rel under root, resolving any VersionSegment to the highest
// version directory present at that level.
func Expand(root, rel string) (string, bool) {
	segments := strings.Split(filepath.ToSlash(rel), "/")
	current := root
	for _, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		if seg == VersionSegment {
			best, ok := HighestVersionDir(current)
			if !ok {
				return "", false
			}
			seg = best
		}
		current = filepath.Join(current, seg)
	}
	return current, true
}

// IsFile reports whether path exists and is not a directory.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
