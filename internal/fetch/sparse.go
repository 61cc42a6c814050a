package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/runner"
	"cppdev/internal/task"
)

// Sparse checkout stage names.
const (
	StageInit     = "init"
	StageRemote   = "remote"
	StageSparse   = "sparse-checkout"
	StageFetch    = "fetch"
	StageCheckout = "checkout"
	StageFlatten  = "flatten"
)

const stagingName = ".cppdev-sparse"

type gitStep struct {
	stage string
	args  []string
}

// sparseSteps lists the git invocations for a narrow checkout of job.
func sparseSteps(job Job) []gitStep {
	ref := job.Ref
	if ref == "" {
		ref = "HEAD"
	}
	steps := []gitStep{
		{StageInit, []string{"init", "--quiet"}},
		{StageRemote, []string{"remote", "add", "origin", job.Repo}},
	}
	if job.Path != "" {
		steps = append(steps, gitStep{StageSparse, []string{"config", "core.sparseCheckout", "true"}})
	}
	steps = append(steps,
		gitStep{StageFetch, []string{"fetch", "--depth", "1", "--no-tags", "origin", ref}},
		gitStep{StageCheckout, []string{"checkout", "--quiet", "FETCH_HEAD"}},
	)
	return steps
}

// sparse runs the narrow checkout directly in job.Dest and flattens the
// subtree to the destination root. The caller removes job.Dest on failure.
func (f *Fetcher) sparse(ctx context.Context, job Job, rep task.Reporter) error {
	if err := os.MkdirAll(job.Dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	steps := sparseSteps(job)
	total := int64(len(steps) + 1)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.KindCancelled, "git "+step.stage, err)
		}
		rep.Status("git " + step.args[0])
		if err := f.git(ctx, job.Dest, step, rep); err != nil {
			return err
		}
		if step.stage == StageSparse {
			if err := writeSparsePatterns(job.Dest, job.Path); err != nil {
				return err
			}
		}
		rep.Progress(int64(i+1), total)
	}

	if err := flattenSubtree(job.Dest, job.Path); err != nil {
		return err
	}
	rep.Progress(total, total)
	return nil
}

func (f *Fetcher) git(ctx context.Context, dir string, step gitStep, rep task.Reporter) error {
	var untrack func()
	res, err := f.Runner.Run(ctx, f.Git, step.args, runner.RunOptions{
		Dir:     dir,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
		Timeout: f.StepTimeout,
		OnStart: func(p *os.Process) {
			untrack = rep.Track(p)
		},
	})
	if untrack != nil {
		untrack()
	}
	if err != nil {
		f.logger().Debug("git step failed",
			zap.String("stage", step.stage),
			zap.Int("exit_code", res.ExitCode),
			zap.ByteString("stderr", res.Stderr))
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindCancelled, "git "+step.stage, ctx.Err())
		}
		return errs.Subprocess(step.stage, "git "+strings.Join(step.args, " "), res.Stdout, res.Stderr, err)
	}
	return nil
}

// writeSparsePatterns limits the checkout to subtree.
func writeSparsePatterns(dest, subtree string) error {
	info := filepath.Join(dest, ".git", "info")
	if err := os.MkdirAll(info, 0o755); err != nil {
		return fmt.Errorf("create sparse-checkout file: %w", err)
	}
	pattern := "/" + subtree + "/\n"
	if err := os.WriteFile(filepath.Join(info, "sparse-checkout"), []byte(pattern), 0o644); err != nil {
		return fmt.Errorf("write sparse-checkout file: %w", err)
	}
	return nil
}

// flattenSubtree drops repository metadata and lifts the contents of subtree
// to the destination root.
func flattenSubtree(dest, subtree string) error {
	if err := removeAllWritable(filepath.Join(dest, ".git")); err != nil {
		return errs.Wrap(errs.KindPartialState, "strip repository metadata", err)
	}
	if subtree == "" {
		return nil
	}

	parts := strings.Split(subtree, "/")
	top := filepath.Join(dest, parts[0])
	staging := filepath.Join(dest, stagingName)
	if _, err := os.Stat(top); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &errs.Error{Kind: errs.KindNotFound, Op: StageFlatten, Message: fmt.Sprintf("path %q not present upstream", subtree)}
		}
		return err
	}
	if err := os.Rename(top, staging); err != nil {
		return fmt.Errorf("stage subtree: %w", err)
	}

	source := filepath.Join(append([]string{staging}, parts[1:]...)...)
	entries, err := os.ReadDir(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &errs.Error{Kind: errs.KindNotFound, Op: StageFlatten, Message: fmt.Sprintf("path %q not present upstream", subtree)}
		}
		return err
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(source, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return fmt.Errorf("lift %s: %w", entry.Name(), err)
		}
	}
	return os.RemoveAll(staging)
}

// removeAllWritable clears read-only bits that git sets on pack files before
// removing root.
func removeAllWritable(root string) error {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		mode := os.FileMode(0o644)
		if d.IsDir() {
			mode = 0o755
		}
		_ = os.Chmod(p, mode)
		return nil
	})
	return os.RemoveAll(root)
}
