package cli

import (
	"path/filepath"
	"testing"

	"cppdev/internal/build"
	"cppdev/internal/config"
	"cppdev/internal/paths"
	"cppdev/internal/probe"
)

func TestResolveDevRootPrecedence(t *testing.T) {
	data := paths.NewDataPaths(filepath.Join(t.TempDir(), "data"))
	envRoot := filepath.Join(t.TempDir(), "env-root")
	cfgRoot := filepath.Join(t.TempDir(), "cfg-root")

	tests := []struct {
		name string
		env  probe.MapEnv
		cfg  config.Config
		want string
	}{
		{"env wins", probe.MapEnv{DevRootEnv: envRoot}, config.Config{DevRoot: cfgRoot}, envRoot},
		{"blank env ignored", probe.MapEnv{DevRootEnv: "  "}, config.Config{DevRoot: cfgRoot}, cfgRoot},
		{"falls back to data root", probe.MapEnv{}, config.Config{}, data.Root},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveDevRoot(tt.cfg, tt.env, data); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDependencyNameAndDest(t *testing.T) {
	root := t.TempDir()
	pp, err := paths.Resolve(root)
	if err != nil {
		t.Fatal(err)
	}
	s := &session{Project: pp}

	dep := config.DependencyConfig{Repo: "https://github.com/fmtlib/fmt.git", Path: "include"}
	if got := dependencyName(dep); got != "fmt" {
		t.Fatalf("name = %q, want fmt", got)
	}
	if got, want := dependencyDest(s, dep), filepath.Join(root, "third_party", "fmt"); got != want {
		t.Fatalf("dest = %s, want %s", got, want)
	}

	dep.Name = "libfmt"
	dep.Dest = "vendor/fmt"
	if got := dependencyName(dep); got != "libfmt" {
		t.Fatalf("name = %q, want libfmt", got)
	}
	if got, want := dependencyDest(s, dep), filepath.Join(root, "vendor", "fmt"); got != want {
		t.Fatalf("dest = %s, want %s", got, want)
	}
}

func TestBuildJobMergesFlagsOverConfig(t *testing.T) {
	root := t.TempDir()
	pp, err := paths.Resolve(root)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Build.Mode = "Debug"
	cfg.Build.Defines = []string{"FOO=1"}
	s := &session{Project: pp, Config: cfg}

	t.Cleanup(func() {
		buildMode, buildDir, buildGenerator, buildDefines, buildClean = "", "", "", nil, false
	})
	buildMode = "relwithdebinfo"
	buildDir = "out"
	buildDefines = []string{"BAR=2"}

	job, err := buildJob(s)
	if err != nil {
		t.Fatal(err)
	}
	if job.Mode != build.ModeRelWithDebInfo {
		t.Fatalf("mode = %s", job.Mode)
	}
	if job.BuildDir != filepath.Join(root, "out") {
		t.Fatalf("build dir = %s", job.BuildDir)
	}
	if len(job.Defines) != 2 || job.Defines[0] != "FOO=1" || job.Defines[1] != "BAR=2" {
		t.Fatalf("defines = %v", job.Defines)
	}
}
