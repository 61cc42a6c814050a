// Package fetch vendors a subtree of a remote repository into a project.
//
// The narrow strategy drives the git CLI through a sparse, shallow checkout.
// When any of its steps fails the fetcher clones the repository at depth one
// into a temporary directory and copies the subtree out. Either way the
// destination ends up holding exactly the subtree or does not exist.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/logx"
	"cppdev/internal/metrics"
	"cppdev/internal/retry"
	"cppdev/internal/runner"
	"cppdev/internal/task"
)

// Strategy names the tier that produced a result.
type Strategy string

const (
	StrategySparse Strategy = "sparse"
	StrategyClone  Strategy = "clone"
)

// Job describes one dependency fetch.
type Job struct {
	ID   string
	Repo string
	// Path is the slash-separated subtree to keep; empty keeps the whole tree.
	Path string
	Ref  string
	Dest string
}

// Result reports how a dependency was fetched.
type Result struct {
	JobID    string
	Strategy Strategy
	Files    int
	Warnings []string
}

// Fetcher retrieves dependency subtrees.
type Fetcher struct {
	Git    string
	Runner runner.Runner
	Cloner Cloner

	StepTimeout  time.Duration
	CloneTimeout time.Duration
	TempDir      string
	RemovePolicy retry.Policy

	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// New returns a fetcher that runs the git executable at gitPath.
func New(gitPath string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Git:          gitPath,
		Runner:       runner.CmdRunner{},
		Cloner:       GoGitCloner{},
		StepTimeout:  2 * time.Minute,
		CloneTimeout: 10 * time.Minute,
		RemovePolicy: retry.NewPolicy(retry.BackoffLinear, 200*time.Millisecond, time.Second, 2),
		Logger:       logx.OrNop(logger),
		Metrics:      metrics.NoopRecorder{},
	}
}

// Fetch populates job.Dest with the job subtree.
func (f *Fetcher) Fetch(ctx context.Context, job Job, rep task.Reporter) (Result, error) {
	if rep == nil {
		rep = task.Discard
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	res := Result{JobID: job.ID}

	subtree, err := normalizeSubtree(job.Path)
	if err != nil {
		return res, err
	}
	job.Path = subtree
	if strings.TrimSpace(job.Repo) == "" || strings.TrimSpace(job.Dest) == "" {
		return res, errors.New("fetch requires a repository and a destination")
	}
	if err := ensureVacant(job.Dest); err != nil {
		return res, err
	}

	log := f.logger().With(zap.String("job_id", job.ID), zap.String("repo", job.Repo), zap.String("path", job.Path))

	var primaryErr error
	if f.Git != "" {
		started := time.Now()
		rep.Status(fmt.Sprintf("Sparse checkout of %s", describe(job)))
		primaryErr = f.sparse(ctx, job, rep)
		f.metrics().ObserveStageDuration(metrics.ComponentFetch, string(StrategySparse), time.Since(started))
		if primaryErr == nil {
			res.Strategy = StrategySparse
			res.Files = countFiles(job.Dest)
			f.metrics().IncStrategy(metrics.ComponentFetch, string(StrategySparse))
			f.metrics().IncOutcome(metrics.ComponentFetch, metrics.OutcomeSuccess)
			log.Info("sparse checkout complete", zap.Int("files", res.Files))
			return res, nil
		}
		if cerr := f.removeDest(ctx, job.Dest); cerr != nil {
			return f.fail(res, cerr)
		}
		if ctx.Err() != nil {
			return f.fail(res, errs.Wrap(errs.KindCancelled, "fetch "+job.Repo, ctx.Err()))
		}
		log.Warn("sparse checkout failed, falling back to full clone", zap.Error(primaryErr))
		warning := "sparse checkout failed, falling back to a full clone: " + summarize(primaryErr)
		res.Warnings = append(res.Warnings, warning)
		rep.Status(warning)
	} else {
		primaryErr = errors.New("git executable not available")
	}

	started := time.Now()
	rep.Status(fmt.Sprintf("Cloning %s", job.Repo))
	files, err := f.clone(ctx, job, rep)
	f.metrics().ObserveStageDuration(metrics.ComponentFetch, string(StrategyClone), time.Since(started))
	if err != nil {
		if cerr := f.removeDest(ctx, job.Dest); cerr != nil {
			return f.fail(res, cerr)
		}
		if ctx.Err() != nil {
			return f.fail(res, errs.Wrap(errs.KindCancelled, "fetch "+job.Repo, ctx.Err()))
		}
		return f.fail(res, &errs.Error{
			Kind:    errs.KindTransport,
			Op:      "fetch " + job.Repo,
			Message: "sparse checkout failed (" + summarize(primaryErr) + ") and full clone failed",
			Cause:   err,
		})
	}

	res.Strategy = StrategyClone
	res.Files = files
	f.metrics().IncStrategy(metrics.ComponentFetch, string(StrategyClone))
	f.metrics().IncOutcome(metrics.ComponentFetch, metrics.OutcomeSuccess)
	log.Info("fallback clone complete", zap.Int("files", files))
	return res, nil
}

func (f *Fetcher) fail(res Result, err error) (Result, error) {
	if errs.KindOf(err) == errs.KindCancelled {
		f.metrics().IncOutcome(metrics.ComponentFetch, metrics.OutcomeCanceled)
	} else {
		f.metrics().IncOutcome(metrics.ComponentFetch, metrics.OutcomeFailed)
	}
	return res, err
}

// removeDest deletes a partially populated destination.
func (f *Fetcher) removeDest(ctx context.Context, dest string) error {
	policy := f.RemovePolicy
	if policy.Validate() != nil {
		policy = retry.DefaultPolicy()
	}
	// Cleanup must run even when ctx is already cancelled.
	err := policy.Do(context.WithoutCancel(ctx), func(int) error {
		if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return os.RemoveAll(dest)
	})
	if err != nil {
		return errs.Wrap(errs.KindPartialState, "remove partial "+dest, err)
	}
	return nil
}

// normalizeSubtree cleans a sparse path and rejects paths leaving the repo.
func normalizeSubtree(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || p == "." || p == "/" {
		return "", nil
	}
	cleaned := path.Clean(strings.Trim(p, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("sparse path %q escapes the repository", p)
	}
	return cleaned, nil
}

// ensureVacant refuses to overwrite an existing, non-empty destination.
func ensureVacant(dest string) error {
	entries, err := os.ReadDir(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect destination: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("destination %s already exists and is not empty", dest)
	}
	return os.Remove(dest)
}

func countFiles(root string) int {
	n := 0
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func describe(job Job) string {
	if job.Path == "" {
		return job.Repo
	}
	return job.Repo + " (" + job.Path + ")"
}

// summarize renders err on one line, including the first line of captured
// stderr for subprocess failures.
func summarize(err error) string {
	msg := firstLine(err.Error())
	if e, ok := errs.As(err); ok && strings.TrimSpace(e.Stderr) != "" {
		msg += " (" + firstLine(e.Stderr) + ")"
	}
	return msg
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (f *Fetcher) logger() *zap.Logger { return logx.OrNop(f.Logger) }

func (f *Fetcher) metrics() metrics.Recorder { return metrics.OrNoop(f.Metrics) }
