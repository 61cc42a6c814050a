package fetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"cppdev/internal/errs"
	"cppdev/internal/runner"
	"cppdev/internal/task"
)

// Cloner produces a shallow working copy of a repository in dir.
type Cloner interface {
	Clone(ctx context.Context, repo, ref, dir string, progress io.Writer) error
}

// GoGitCloner clones in-process with go-git.
type GoGitCloner struct{}

func (GoGitCloner) Clone(ctx context.Context, repo, ref, dir string, progress io.Writer) error {
	opts := &git.CloneOptions{
		URL:          repo,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
		Progress:     progress,
	}
	if ref != "" {
		opts.ReferenceName = referenceName(ref)
	}
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}

func referenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}

// clone performs the fallback tier and returns the number of files copied.
func (f *Fetcher) clone(ctx context.Context, job Job, rep task.Reporter) (int, error) {
	cloner := f.Cloner
	if cloner == nil {
		cloner = GoGitCloner{}
	}

	tmp, err := os.MkdirTemp(f.TempDir, "cppdev-clone-*")
	if err != nil {
		return 0, fmt.Errorf("create clone dir: %w", err)
	}
	defer func() { _ = removeAllWritable(tmp) }()

	cloneCtx := ctx
	if f.CloneTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, f.CloneTimeout)
		defer cancel()
	}

	lines := runner.NewLineWriter(func(line string) {
		if line = strings.TrimSpace(line); line != "" {
			rep.Status(line)
		}
	})
	err = cloner.Clone(cloneCtx, job.Repo, job.Ref, tmp, lines)
	lines.Flush()
	if err != nil {
		return 0, fmt.Errorf("clone %s: %w", job.Repo, err)
	}

	source := tmp
	if job.Path != "" {
		source = filepath.Join(tmp, filepath.FromSlash(job.Path))
		info, err := os.Stat(source)
		if err != nil || !info.IsDir() {
			return 0, &errs.Error{Kind: errs.KindNotFound, Op: "copy subtree", Message: fmt.Sprintf("path %q not present upstream", job.Path)}
		}
	}
	return copySubtree(ctx, source, job.Dest, rep)
}

// copySubtree copies every file below source into dest, skipping repository
// metadata.
func copySubtree(ctx context.Context, source, dest string, rep task.Reporter) (int, error) {
	matches, err := doublestar.Glob(os.DirFS(source), "**", doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return 0, fmt.Errorf("enumerate subtree: %w", err)
	}

	files := matches[:0]
	for _, rel := range matches {
		if rel == ".git" || strings.HasPrefix(rel, ".git/") {
			continue
		}
		files = append(files, rel)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	// Indeterminate: the sparse tier may already have advanced the
	// determinate scale for this job.
	rep.Progress(0, 0)
	rep.Status(fmt.Sprintf("Copying %d files", len(files)))
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return i, errs.Wrap(errs.KindCancelled, "copy subtree", err)
		}
		if err := copyEntry(filepath.Join(source, filepath.FromSlash(rel)), filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

func copyEntry(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return nil
}
