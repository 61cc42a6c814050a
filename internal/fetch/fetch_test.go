package fetch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cppdev/internal/errs"
	"cppdev/internal/retry"
	"cppdev/internal/runner"
	"cppdev/internal/task"
)

// gitScript fakes the git CLI. On checkout it materialises the files that a
// sparse checkout of include/fmt would leave behind.
type gitScript struct {
	mu      sync.Mutex
	failAt  string
	calls   []string
	workdir string
}

func (g *gitScript) Run(ctx context.Context, command string, args []string, opts runner.RunOptions) (runner.RunResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, strings.Join(args, " "))
	g.workdir = opts.Dir
	g.mu.Unlock()

	stage := stageOf(args)
	switch stage {
	case StageInit:
		if err := os.MkdirAll(filepath.Join(opts.Dir, ".git", "objects"), 0o755); err != nil {
			return runner.RunResult{}, err
		}
	case StageCheckout:
		writeTree(nil, opts.Dir, map[string]string{
			"include/fmt/core.h":   "core",
			"include/fmt/format.h": "format",
			".git/HEAD":            "ref",
		})
	}
	if stage == g.failAt {
		return runner.RunResult{Stderr: []byte("fatal: " + stage + " exploded"), ExitCode: 128}, errors.New("exit status 128")
	}
	return runner.RunResult{}, nil
}

func stageOf(args []string) string {
	switch args[0] {
	case "init":
		return StageInit
	case "remote":
		return StageRemote
	case "config":
		return StageSparse
	case "fetch":
		return StageFetch
	case "checkout":
		return StageCheckout
	}
	return args[0]
}

type fakeCloner struct {
	tree  map[string]string
	err   error
	calls int
}

func (c *fakeCloner) Clone(_ context.Context, repo, ref, dir string, progress io.Writer) error {
	c.calls++
	if progress != nil {
		_, _ = io.WriteString(progress, "Counting objects: 100% (3/3), done.\n")
	}
	if c.err != nil {
		// A failed clone can leave partial content behind.
		writeTree(nil, dir, map[string]string{"partial": "x"})
		return c.err
	}
	writeTree(nil, dir, c.tree)
	return nil
}

type statusLog struct {
	mu       sync.Mutex
	statuses []string
}

func (s *statusLog) Progress(int64, int64) {}
func (s *statusLog) Status(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, msg)
}
func (s *statusLog) Track(*os.Process) func() { return func() {} }

func writeTree(t *testing.T, root string, files map[string]string) {
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil && t != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil && t != nil {
			t.Fatal(err)
		}
	}
}

func listTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(body)
		return nil
	})
	require.NoError(t, err)
	return out
}

func newTestFetcher(t *testing.T, run runner.Runner, cloner Cloner) *Fetcher {
	t.Helper()
	f := New("git", nil)
	f.Runner = run
	f.Cloner = cloner
	f.TempDir = t.TempDir()
	f.RemovePolicy = retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 1)
	return f
}

func TestSparseCheckoutFlattensSubtree(t *testing.T) {
	script := &gitScript{}
	cloner := &fakeCloner{}
	f := newTestFetcher(t, script, cloner)
	dest := filepath.Join(t.TempDir(), "third_party", "fmt")

	res, err := f.Fetch(context.Background(), Job{Repo: "https://example.com/fmt.git", Path: "include/fmt", Dest: dest}, task.Discard)
	require.NoError(t, err)

	assert.Equal(t, StrategySparse, res.Strategy)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, map[string]string{"core.h": "core", "format.h": "format"}, listTree(t, dest))
	assert.Zero(t, cloner.calls)

	require.Len(t, script.calls, 5)
	assert.Equal(t, "init --quiet", script.calls[0])
	assert.Equal(t, "remote add origin https://example.com/fmt.git", script.calls[1])
	assert.Equal(t, "fetch --depth 1 --no-tags origin HEAD", script.calls[3])
	assert.Equal(t, dest, script.workdir)
}

func TestSparseFailureFallsBackToClone(t *testing.T) {
	script := &gitScript{failAt: StageFetch}
	cloner := &fakeCloner{tree: map[string]string{
		"README.md":              "readme",
		"src/format.cc":          "src",
		"include/fmt/core.h":     "core",
		"include/fmt/detail/x.h": "detail",
		"include/fmt/.clang":     "dot",
		"include/other/skip.h":   "skip",
	}}
	f := newTestFetcher(t, script, cloner)
	dest := filepath.Join(t.TempDir(), "fmt")
	rep := &statusLog{}

	res, err := f.Fetch(context.Background(), Job{Repo: "https://example.com/fmt.git", Path: "include/fmt", Dest: dest}, rep)
	require.NoError(t, err)

	assert.Equal(t, StrategyClone, res.Strategy)
	assert.Equal(t, 3, res.Files)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "falling back")
	assert.Equal(t, map[string]string{
		"core.h":     "core",
		"detail/x.h": "detail",
		".clang":     "dot",
	}, listTree(t, dest))
	assert.Equal(t, 1, cloner.calls)
	assert.Contains(t, rep.statuses, "Counting objects: 100% (3/3), done.")

	leftovers, err := os.ReadDir(f.TempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temporary clone must be removed")
}

// progressLog records progress events for a whole job.
type progressLog struct {
	statusLog
	events [][2]int64
}

func (p *progressLog) Progress(done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, [2]int64{done, total})
}

// requireMonotonic fails when a determinate event reports less done, or a
// smaller done/total ratio, than an earlier one.
func requireMonotonic(t *testing.T, events [][2]int64) {
	t.Helper()
	var lastDone, lastTotal int64
	for _, ev := range events {
		if ev[1] == 0 {
			continue
		}
		if lastTotal > 0 && (ev[0] < lastDone || ev[0]*lastTotal < lastDone*ev[1]) {
			t.Fatalf("progress went back to %v after %d/%d: %v", ev, lastDone, lastTotal, events)
		}
		lastDone, lastTotal = ev[0], ev[1]
	}
}

func TestFallbackKeepsProgressMonotonic(t *testing.T) {
	tree := map[string]string{"README.md": "readme"}
	for i := 0; i < 20; i++ {
		tree["include/fmt/h"+string(rune('a'+i))+".h"] = "x"
	}
	script := &gitScript{failAt: StageCheckout}
	f := newTestFetcher(t, script, &fakeCloner{tree: tree})
	job := Job{Repo: "https://example.com/fmt.git", Path: "include/fmt", Dest: filepath.Join(t.TempDir(), "fmt")}

	t.Run("engine", func(t *testing.T) {
		rep := &progressLog{}
		res, err := f.Fetch(context.Background(), job, rep)
		require.NoError(t, err)
		require.Equal(t, StrategyClone, res.Strategy)
		require.NotEmpty(t, rep.events)
		requireMonotonic(t, rep.events)
	})

	t.Run("task", func(t *testing.T) {
		job := job
		job.Dest = filepath.Join(t.TempDir(), "fmt")
		var mu sync.Mutex
		var events [][2]int64
		h := task.Start(context.Background(), func(ctx context.Context, ctl *task.Control) (Result, error) {
			return f.Fetch(ctx, job, ctl)
		}, task.Callbacks[Result]{OnProgress: func(done, total int64) {
			mu.Lock()
			events = append(events, [2]int64{done, total})
			mu.Unlock()
		}}, task.Options{})
		res := h.Wait()
		require.NoError(t, res.Err)
		assert.Equal(t, 20, res.Value.Files)

		mu.Lock()
		defer mu.Unlock()
		requireMonotonic(t, events)
	})
}

func TestEveryStageFailureLeavesNoDestination(t *testing.T) {
	for _, stage := range []string{StageInit, StageRemote, StageSparse, StageFetch, StageCheckout} {
		t.Run(stage, func(t *testing.T) {
			script := &gitScript{failAt: stage}
			cloner := &fakeCloner{err: errors.New("remote hung up")}
			f := newTestFetcher(t, script, cloner)
			dest := filepath.Join(t.TempDir(), "fmt")

			_, err := f.Fetch(context.Background(), Job{Repo: "https://example.com/fmt.git", Path: "include/fmt", Dest: dest}, task.Discard)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrTransport), "got %v", err)
			assert.Contains(t, err.Error(), "["+stage+"]")
			assert.Contains(t, err.Error(), "exploded")

			_, statErr := os.Stat(dest)
			assert.True(t, errors.Is(statErr, fs.ErrNotExist), "destination must not exist, stat=%v", statErr)
		})
	}
}

func TestMissingSubtreeUpstream(t *testing.T) {
	script := &gitScript{failAt: StageFetch}
	cloner := &fakeCloner{tree: map[string]string{"README.md": "readme"}}
	f := newTestFetcher(t, script, cloner)
	dest := filepath.Join(t.TempDir(), "lib")

	_, err := f.Fetch(context.Background(), Job{Repo: "https://example.com/lib.git", Path: "include/lib", Dest: dest}, task.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTransport))
	_, statErr := os.Stat(dest)
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestSparseSubtreeAbsentAfterCheckout(t *testing.T) {
	script := &gitScript{}
	cloner := &fakeCloner{tree: map[string]string{"lib/a.h": "a"}}
	f := newTestFetcher(t, script, cloner)
	dest := filepath.Join(t.TempDir(), "lib")

	res, err := f.Fetch(context.Background(), Job{Repo: "https://example.com/lib.git", Path: "lib", Dest: dest}, task.Discard)
	require.NoError(t, err)
	assert.Equal(t, StrategyClone, res.Strategy)
	assert.Equal(t, map[string]string{"a.h": "a"}, listTree(t, dest))
}

func TestExistingDestinationRejected(t *testing.T) {
	script := &gitScript{}
	f := newTestFetcher(t, script, &fakeCloner{})
	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"keep.txt": "mine"})

	_, err := f.Fetch(context.Background(), Job{Repo: "https://example.com/lib.git", Path: "lib", Dest: dest}, task.Discard)
	require.Error(t, err)
	assert.Empty(t, script.calls)
	assert.Equal(t, map[string]string{"keep.txt": "mine"}, listTree(t, dest))
}

func TestCancelledFetchIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newTestFetcher(t, &gitScript{}, &fakeCloner{tree: map[string]string{"lib/a.h": "a"}})
	dest := filepath.Join(t.TempDir(), "lib")

	_, err := f.Fetch(ctx, Job{Repo: "https://example.com/lib.git", Path: "lib", Dest: dest}, task.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCancelled), "got %v", err)
	_, statErr := os.Stat(dest)
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestNormalizeSubtree(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"/":            "",
		"include/fmt/": "include/fmt",
		`include\fmt`:  "include/fmt",
		"/a/./b/../c":  "a/c",
		"  single  ":   "single",
	}
	for in, want := range cases {
		got, err := normalizeSubtree(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := normalizeSubtree("../outside")
	assert.Error(t, err)
}

func TestSparseStepsWholeRepository(t *testing.T) {
	steps := sparseSteps(Job{Repo: "r", Ref: "v1.2.0"})
	var stages []string
	for _, s := range steps {
		stages = append(stages, s.stage)
	}
	assert.Equal(t, []string{StageInit, StageRemote, StageFetch, StageCheckout}, stages)
	assert.Equal(t, []string{"fetch", "--depth", "1", "--no-tags", "origin", "v1.2.0"}, steps[2].args)
}

// TestSparseCheckoutWithGitCLI exercises the narrow tier against a local
// repository when a git executable is installed.
func TestSparseCheckoutWithGitCLI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file URLs differ on windows")
	}
	gitPath, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git not installed")
	}

	upstream := t.TempDir()
	repo, err := git.PlainInit(upstream, false)
	require.NoError(t, err)
	writeTree(t, upstream, map[string]string{
		"README.md":            "readme",
		"include/fmt/core.h":   "core",
		"include/fmt/detail.h": "detail",
		"src/format.cc":        "src",
	})
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddGlob("."))
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "cppdev", Email: "cppdev@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	f := New(gitPath, nil)
	f.Cloner = &fakeCloner{err: errors.New("fallback not expected")}
	dest := filepath.Join(t.TempDir(), "fmt")

	res, err := f.Fetch(context.Background(), Job{Repo: "file://" + upstream, Path: "include/fmt", Dest: dest}, task.Discard)
	require.NoError(t, err)
	assert.Equal(t, StrategySparse, res.Strategy)

	got := listTree(t, dest)
	names := make([]string, 0, len(got))
	for name := range got {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"core.h", "detail.h"}, names)
}
