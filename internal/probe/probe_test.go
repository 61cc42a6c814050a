package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("bin"), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestHighestVersionNumericTuple(t *testing.T) {
	got, ok := HighestVersion([]string{"9.9", "10.1", "9.20"})
	if !ok || got != "10.1" {
		t.Fatalf("expected 10.1, got %q (ok=%v)", got, ok)
	}

	got, ok = HighestVersion([]string{"10.9", "9.99"})
	if !ok || got != "10.9" {
		t.Fatalf("expected 10.9, got %q", got)
	}

	got, ok = HighestVersion([]string{"14.38.33130", "14.38", "14.4.1"})
	if !ok || got != "14.38.33130" {
		t.Fatalf("expected 14.38.33130, got %q", got)
	}
}

func TestHighestVersionSkipsNonNumeric(t *testing.T) {
	got, ok := HighestVersion([]string{"15.0-preview", "latest", "1.2"})
	if !ok || got != "1.2" {
		t.Fatalf("expected 1.2, got %q", got)
	}
	if _, ok := HighestVersion([]string{"beta", "1..2", ""}); ok {
		t.Fatalf("expected no version")
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b []int
		want int
	}{
		{[]int{1, 2}, []int{1, 2}, 0},
		{[]int{1, 2}, []int{1, 10}, -1},
		{[]int{2}, []int{1, 99}, 1},
		{[]int{1, 2}, []int{1, 2, 0}, -1},
	}
	for _, c := range cases {
		if got := CompareVersions(c.a, c.b); got != c.want {
			t.Errorf("CompareVersions(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestUnderRootVersionSegment(t *testing.T) {
	root := t.TempDir()
	for _, v := range []string{"9.9", "10.1", "9.20", "notes"} {
		touch(t, filepath.Join(root, "MSVC", v, "bin", "cl"))
	}

	p := New(MapEnv{})
	got, ok := p.UnderRoot(root, "MSVC/{version}/bin/cl")
	if !ok {
		t.Fatalf("expected hit")
	}
	if want := filepath.Join(root, "MSVC", "10.1", "bin", "cl"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestUnderRootVariantOrder(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "cmake", "bin", "cmake"))
	touch(t, filepath.Join(root, "CMake", "bin", "cmake.real"))

	p := New(MapEnv{})
	got, ok := p.UnderRoot(root, "CMake/bin/cmake", "cmake/bin/cmake")
	if !ok {
		t.Fatalf("expected hit")
	}
	if want := filepath.Join(root, "cmake", "bin", "cmake"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	if _, ok := p.UnderRoot(root, "missing/bin/cmake"); ok {
		t.Fatalf("expected miss")
	}
	if _, ok := p.UnderRoot("", "cmake/bin/cmake"); ok {
		t.Fatalf("expected miss for empty root")
	}
}

func TestFromEnv(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "bin", "git"))

	p := New(MapEnv{"GIT_HOME": root, "EMPTY": "  "})
	got, ok := p.FromEnv("GIT_HOME", "cmd/git", "bin/git")
	if !ok || got != filepath.Join(root, "bin", "git") {
		t.Fatalf("unexpected result %q ok=%v", got, ok)
	}
	if _, ok := p.FromEnv("EMPTY", "bin/git"); ok {
		t.Fatalf("expected miss for blank variable")
	}
	if _, ok := p.FromEnv("UNSET", "bin/git"); ok {
		t.Fatalf("expected miss for unset variable")
	}
}

func TestOnPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "ninja")
	touch(t, exe)

	p := New(MapEnv{})
	p.LookPath = func(name string) (string, error) {
		if name == "ninja" {
			return exe, nil
		}
		return "", errors.New("not found")
	}
	if got, ok := p.OnPath("ninja"); !ok || got != exe {
		t.Fatalf("expected %s, got %q", exe, got)
	}
	if _, ok := p.OnPath("cmake"); ok {
		t.Fatalf("expected miss")
	}
}

func TestViaInstallerQuery(t *testing.T) {
	dir := t.TempDir()
	query := filepath.Join(dir, "vswhere")
	touch(t, query)
	install := filepath.Join(dir, "VS", "BuildTools")
	if err := os.MkdirAll(install, 0o755); err != nil {
		t.Fatal(err)
	}

	p := New(MapEnv{})
	p.Query = func(_ context.Context, tool string, args []string) ([]byte, error) {
		return []byte("\n  " + install + "\r\nsecond line\n"), nil
	}
	got, ok := p.ViaInstallerQuery(context.Background(), query, []string{"-latest"})
	if !ok || got != install {
		t.Fatalf("expected %s, got %q ok=%v", install, got, ok)
	}

	p.Query = func(context.Context, string, []string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}
	if _, ok := p.ViaInstallerQuery(context.Background(), query, nil); ok {
		t.Fatalf("expected miss on query failure")
	}

	if _, ok := p.ViaInstallerQuery(context.Background(), filepath.Join(dir, "absent"), nil); ok {
		t.Fatalf("expected miss when query tool missing")
	}
}

func TestLayeredEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("VCPKG_ROOT=/opt/vcpkg\nCPPDEV_ROOT=/dev\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dot, err := LoadDotEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env := Layered{MapEnv{"CPPDEV_ROOT": "/override"}, dot}
	if v, _ := env.Lookup("CPPDEV_ROOT"); v != "/override" {
		t.Fatalf("expected first layer to win, got %q", v)
	}
	if v, _ := env.Lookup("VCPKG_ROOT"); v != "/opt/vcpkg" {
		t.Fatalf("expected dotenv value, got %q", v)
	}

	missing, err := LoadDotEnv(filepath.Join(dir, "nope.env"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("expected empty env for missing file, got %v %v", missing, err)
	}
}
