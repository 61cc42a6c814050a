package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"cppdev/internal/probe"
)

// Locator is one candidate location strategy for a tool.
type Locator interface {
	Source() Source
	Locate(ctx context.Context, p *probe.Prober, devRoot string) (string, bool)
}

// PathLocator searches the command search path for any of Executables.
type PathLocator struct {
	Executables []string
}

func (PathLocator) Source() Source { return SourcePath }

func (l PathLocator) Locate(_ context.Context, p *probe.Prober, _ string) (string, bool) {
	for _, exe := range l.Executables {
		if path, ok := p.OnPath(exe); ok {
			return path, true
		}
	}
	return "", false
}

// EnvLocator reads Var as an install root and checks Suffixes under it.
type EnvLocator struct {
	Var      string
	Suffixes []string
}

func (EnvLocator) Source() Source { return SourceEnv }

func (l EnvLocator) Locate(_ context.Context, p *probe.Prober, _ string) (string, bool) {
	return p.FromEnv(l.Var, l.Suffixes...)
}

// ConventionLocator checks Variants under <devRoot>/tools.
type ConventionLocator struct {
	Variants []string
}

func (ConventionLocator) Source() Source { return SourceConvention }

func (l ConventionLocator) Locate(_ context.Context, p *probe.Prober, devRoot string) (string, bool) {
	if strings.TrimSpace(devRoot) == "" {
		return "", false
	}
	return p.UnderRoot(filepath.Join(devRoot, "tools"), l.Variants...)
}

// CommonLocator checks Variants under each well-known install root in order.
// Roots may reference environment variables as ${NAME}; a root whose
// variables are unset is skipped.
type CommonLocator struct {
	Roots    []string
	Variants []string
}

func (CommonLocator) Source() Source { return SourceCommon }

func (l CommonLocator) Locate(_ context.Context, p *probe.Prober, _ string) (string, bool) {
	for _, root := range l.Roots {
		expanded, ok := expandRoot(p.Env, root)
		if !ok {
			continue
		}
		if path, ok := p.UnderRoot(expanded, l.Variants...); ok {
			return path, true
		}
	}
	return "", false
}

// QueryLocator runs an installer inventory tool. When Suffixes is empty the
// reported path is used directly; otherwise it is treated as an install root.
type QueryLocator struct {
	Tool     string
	Args     []string
	Suffixes []string
}

func (QueryLocator) Source() Source { return SourceQuery }

func (l QueryLocator) Locate(ctx context.Context, p *probe.Prober, _ string) (string, bool) {
	tool, ok := expandRoot(p.Env, l.Tool)
	if !ok {
		return "", false
	}
	reported, ok := p.ViaInstallerQuery(ctx, tool, l.Args)
	if !ok {
		return "", false
	}
	if len(l.Suffixes) == 0 {
		if !probe.IsFile(reported) {
			return "", false
		}
		return reported, true
	}
	return p.UnderRoot(reported, l.Suffixes...)
}

func expandRoot(env probe.Env, value string) (string, bool) {
	missing := false
	expanded := os.Expand(value, func(name string) string {
		if env == nil {
			missing = true
			return ""
		}
		v, ok := env.Lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			missing = true
			return ""
		}
		return v
	})
	if missing || strings.TrimSpace(expanded) == "" {
		return "", false
	}
	return expanded, true
}
