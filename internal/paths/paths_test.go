package paths

import (
	"os"
	"path/filepath"
	"testing"

	"cppdev/internal/config"
)

func TestApplyConfigRelative(t *testing.T) {
	root := t.TempDir()
	pp := newProjectPaths(root)

	cfg := config.Config{}
	cfg.Build.BuildDir = "out/build"

	applied := ApplyConfig(pp, cfg)

	expected := filepath.Join(root, "out", "build")
	if applied.BuildDir != expected {
		t.Fatalf("expected build dir %s, got %s", expected, applied.BuildDir)
	}
}

func TestApplyConfigAbsolute(t *testing.T) {
	root := t.TempDir()
	pp := newProjectPaths(root)

	buildAbs := filepath.Join(t.TempDir(), "build")
	cfg := config.Config{}
	cfg.Build.BuildDir = buildAbs

	applied := ApplyConfig(pp, cfg)
	if applied.BuildDir != buildAbs {
		t.Fatalf("expected build dir %s, got %s", buildAbs, applied.BuildDir)
	}
}

func TestDataRootOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataHomeEnv, dir)

	data, err := Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if data.Root != dir {
		t.Fatalf("expected root %s, got %s", dir, data.Root)
	}
	if data.ToolsFile != filepath.Join(dir, "tool_paths.json") {
		t.Fatalf("unexpected tools file %s", data.ToolsFile)
	}
	if err := data.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, sub := range []string{data.Downloads, data.ToolsDir, data.LocksDir, data.LogsDir} {
		ok, err := DirExists(sub)
		if err != nil || !ok {
			t.Fatalf("expected %s to exist", sub)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := FileExists(file); !ok {
		t.Fatalf("expected file to exist")
	}
	if ok, _ := FileExists(dir); ok {
		t.Fatalf("directory reported as file")
	}
	if ok, err := FileExists(filepath.Join(dir, "missing")); ok || err != nil {
		t.Fatalf("expected missing file, got %v %v", ok, err)
	}
}
