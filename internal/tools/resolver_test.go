package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cppdev/internal/errs"
	"cppdev/internal/probe"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("bin"), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

type layout struct {
	pathExe    string
	envRoot    string
	devRoot    string
	commonRoot string
	queryTool  string
	queryRoot  string
}

// newLayout places a "widget" executable in every candidate location.
func newLayout(t *testing.T) layout {
	base := t.TempDir()
	l := layout{
		pathExe:    touch(t, filepath.Join(base, "pathdir", "widget")),
		envRoot:    filepath.Join(base, "envroot"),
		devRoot:    filepath.Join(base, "dev"),
		commonRoot: filepath.Join(base, "common"),
		queryTool:  touch(t, filepath.Join(base, "installer", "query")),
		queryRoot:  filepath.Join(base, "queried"),
	}
	touch(t, filepath.Join(l.envRoot, "bin", "widget"))
	touch(t, filepath.Join(l.devRoot, "tools", "Widget", "bin", "widget"))
	touch(t, filepath.Join(l.commonRoot, "bin", "widget"))
	touch(t, filepath.Join(l.queryRoot, "bin", "widget"))
	return l
}

func (l layout) resolver(t *testing.T, lookPathOK bool) *Resolver {
	t.Helper()
	p := probe.New(probe.MapEnv{"WIDGET_ROOT": l.envRoot, "COMMON": l.commonRoot})
	p.LookPath = func(name string) (string, error) {
		if lookPathOK && name == "widget" {
			return l.pathExe, nil
		}
		return "", errors.New("not found")
	}
	p.Query = func(context.Context, string, []string) ([]byte, error) {
		return []byte(l.queryRoot + "\n"), nil
	}
	// Declared in reverse priority to show that ordering comes from the source rank.
	def := Definition{
		Kind: "widget", Name: "Widget", Executable: "widget",
		Locators: []Locator{
			QueryLocator{Tool: l.queryTool, Suffixes: []string{"bin/widget"}},
			CommonLocator{Roots: []string{"${COMMON}"}, Variants: []string{"bin/widget"}},
			ConventionLocator{Variants: []string{"Widget/bin/widget"}},
			EnvLocator{Var: "WIDGET_ROOT", Suffixes: []string{"bin/widget"}},
			PathLocator{Executables: []string{"widget"}},
		},
	}
	return &Resolver{
		Prober:  p,
		Store:   NewStore(filepath.Join(t.TempDir(), "tool_paths.json")),
		DevRoot: l.devRoot,
		Defs:    map[Kind]Definition{"widget": def},
	}
}

func TestResolvePriorityOrder(t *testing.T) {
	l := newLayout(t)
	ctx := context.Background()

	steps := []struct {
		name   string
		source Source
		want   string
		remove func()
		path   bool
	}{
		{name: "path", source: SourcePath, want: l.pathExe, path: true},
		{name: "env", source: SourceEnv, want: filepath.Join(l.envRoot, "bin", "widget"),
			remove: func() { _ = os.RemoveAll(l.envRoot) }},
		{name: "convention", source: SourceConvention, want: filepath.Join(l.devRoot, "tools", "Widget", "bin", "widget"),
			remove: func() { _ = os.RemoveAll(l.devRoot) }},
		{name: "common", source: SourceCommon, want: filepath.Join(l.commonRoot, "bin", "widget"),
			remove: func() { _ = os.RemoveAll(l.commonRoot) }},
		{name: "query", source: SourceQuery, want: filepath.Join(l.queryRoot, "bin", "widget")},
	}

	for i, step := range steps {
		r := l.resolver(t, step.path)
		got, err := r.Resolve(ctx, "widget")
		if err != nil {
			t.Fatalf("%s: resolve: %v", step.name, err)
		}
		if got.Source != step.source || got.Path != step.want {
			t.Fatalf("%s: expected %s from %s, got %s from %s", step.name, step.want, step.source, got.Path, got.Source)
		}
		if step.remove != nil && i+1 < len(steps) {
			step.remove()
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	p := probe.New(probe.MapEnv{})
	p.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	r := &Resolver{
		Prober: p,
		Store:  NewStore(filepath.Join(t.TempDir(), "tool_paths.json")),
		Defs: map[Kind]Definition{"widget": {
			Kind: "widget", Name: "Widget",
			Locators: []Locator{PathLocator{Executables: []string{"widget"}}},
		}},
	}
	_, err := r.Resolve(context.Background(), "widget")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok := r.Store.Get("widget"); ok {
		t.Fatalf("miss must not be persisted")
	}
}

func TestResolveCachesAndRevalidates(t *testing.T) {
	l := newLayout(t)
	r := l.resolver(t, false)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "widget")
	if err != nil || first.Source != SourceEnv {
		t.Fatalf("expected env hit, got %+v %v", first, err)
	}
	cached, ok := r.Store.Get("widget")
	if !ok || cached.Path != first.Path || cached.Source != SourceEnv {
		t.Fatalf("expected persisted entry, got %+v", cached)
	}

	// A cached path that still exists is returned even if higher-priority
	// locations appear later.
	r.Prober.LookPath = func(string) (string, error) { return l.pathExe, nil }
	again, err := r.Resolve(ctx, "widget")
	if err != nil || again.Path != first.Path {
		t.Fatalf("expected cached path, got %+v %v", again, err)
	}

	// Stale entry triggers full discovery.
	if err := os.RemoveAll(l.envRoot); err != nil {
		t.Fatal(err)
	}
	fresh, err := r.Resolve(ctx, "widget")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fresh.Source != SourcePath || fresh.Path != l.pathExe {
		t.Fatalf("expected re-resolution via PATH, got %+v", fresh)
	}
	if cached, _ := r.Store.Get("widget"); cached.Path != l.pathExe {
		t.Fatalf("expected cache updated, got %+v", cached)
	}
}

func TestResolveCompilerFromBuildToolsOnlyInstall(t *testing.T) {
	base := t.TempDir()
	pf86 := filepath.Join(base, "Program Files (x86)")
	buildTools := filepath.Join(pf86, "Microsoft Visual Studio", "2022", "BuildTools")
	for _, v := range []string{"14.29.30133", "14.38.33130", "14.4.0"} {
		touch(t, filepath.Join(buildTools, "VC", "Tools", "MSVC", v, "bin", "Hostx64", "x64", "cl.exe"))
	}

	p := probe.New(probe.MapEnv{"ProgramFiles(x86)": pf86, "ProgramFiles": filepath.Join(base, "Program Files")})
	p.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	p.Query = func(context.Context, string, []string) ([]byte, error) {
		t.Fatalf("installer query must not run when a common path matches")
		return nil, nil
	}
	r := &Resolver{
		Prober:  p,
		Store:   NewStore(filepath.Join(t.TempDir(), "tool_paths.json")),
		DevRoot: filepath.Join(base, "dev"),
		Defs:    definitionsFor("windows"),
		Now:     func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}

	got, err := r.Resolve(context.Background(), KindCompiler)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(buildTools, "VC", "Tools", "MSVC", "14.38.33130", "bin", "Hostx64", "x64", "cl.exe")
	if got.Path != want {
		t.Fatalf("expected %s, got %s", want, got.Path)
	}
	if got.Source != SourceCommon {
		t.Fatalf("expected common path source, got %s", got.Source)
	}
	cached, ok := r.Store.Get(KindCompiler)
	if !ok || cached.Source != SourceCommon || !cached.DiscoveredAt.Equal(r.Now()) {
		t.Fatalf("unexpected cache entry %+v", cached)
	}
}

func TestForgetAndRecord(t *testing.T) {
	dir := t.TempDir()
	exe := touch(t, filepath.Join(dir, "cmake"))
	r := &Resolver{Store: NewStore(filepath.Join(dir, "tool_paths.json")), Defs: map[Kind]Definition{}}

	if _, err := r.Record(KindCMake, exe, SourceProvisioned); err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry, ok := r.Store.Get(KindCMake); !ok || entry.Source != SourceProvisioned {
		t.Fatalf("expected provisioned entry, got %+v", entry)
	}
	if err := r.Forget(KindCMake); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok := r.Store.Get(KindCMake); ok {
		t.Fatalf("expected entry removed")
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("vcpkg"); !ok || k != KindVcpkg {
		t.Fatalf("expected vcpkg")
	}
	if _, ok := ParseKind("ffmpeg"); ok {
		t.Fatalf("expected unknown kind")
	}
}
