package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/metrics"
	"cppdev/internal/runner"
	"cppdev/internal/task"
)

// exitRebootRequired is reported by Windows installers that succeeded but
// want a restart.
const exitRebootRequired = 3010

// runSilent tries each unattended argument set in order. It reports whether
// one of them succeeded; a non-nil error means the job must stop.
func (p *Provisioner) runSilent(ctx context.Context, job Job, installer string, rep task.Reporter, res *Result) (bool, error) {
	if len(job.InstallArgs) == 0 {
		return false, nil
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(installer, 0o755); err != nil {
			return false, fmt.Errorf("mark installer executable: %w", err)
		}
	}

	run := p.Runner
	if run == nil {
		run = runner.CmdRunner{}
	}

	for i, raw := range job.InstallArgs {
		if err := ctx.Err(); err != nil {
			return false, errs.Wrap(errs.KindCancelled, "install "+string(job.Kind), err)
		}
		if err := p.clearDir(ctx, job.DestDir); err != nil {
			return false, err
		}

		args := ExpandArgs(raw, job.DestDir)
		rep.Status(fmt.Sprintf("Running installer (attempt %d of %d)", i+1, len(job.InstallArgs)))

		var untrack func()
		out, err := run.Run(ctx, installer, args, runner.RunOptions{
			Timeout: p.InstallTimeout,
			OnStart: func(proc *os.Process) { untrack = rep.Track(proc) },
		})
		if untrack != nil {
			untrack()
		}

		attempt := AttemptResult{Args: args, ExitCode: out.ExitCode}
		if err == nil || out.ExitCode == exitRebootRequired {
			res.Attempts = append(res.Attempts, attempt)
			if out.ExitCode == exitRebootRequired {
				res.Warnings = append(res.Warnings, "installer requested a reboot")
			}
			return true, nil
		}
		attempt.Err = err.Error()
		res.Attempts = append(res.Attempts, attempt)

		if ctx.Err() != nil {
			return false, errs.Wrap(errs.KindCancelled, "install "+string(job.Kind), ctx.Err())
		}
		p.logger().Warn("silent install attempt failed",
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", i+1),
			zap.Int("exit_code", out.ExitCode),
			zap.Error(err))
		p.metrics().IncRetry(metrics.ComponentProvision, "silent_attempt")
	}
	return false, nil
}

// installArchive extracts into a staging directory next to dest and renames
// it into place, so dest is either complete or absent.
func (p *Provisioner) installArchive(ctx context.Context, format archiveFormat, archivePath, dest string) error {
	if err := p.clearDir(ctx, dest); err != nil {
		return err
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("prepare destination parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := extractArchive(format, archivePath, staging); err != nil {
		return errs.Wrap(errs.KindInstallFailure, "extract "+filepath.Base(archivePath), err)
	}
	if err := flattenSingleRoot(staging); err != nil {
		return errs.Wrap(errs.KindInstallFailure, "extract "+filepath.Base(archivePath), err)
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, "extract "+filepath.Base(archivePath), err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return fmt.Errorf("commit extracted files: %w", err)
	}
	committed = true
	return nil
}

// clearDir removes dir, making read-only entries writable first. Removal is
// retried per RemovePolicy because installers and scanners briefly hold files.
func (p *Provisioner) clearDir(ctx context.Context, dir string) error {
	policy := p.RemovePolicy
	if policy.Validate() != nil {
		policy = defaultRemovePolicy()
	}
	err := policy.Do(ctx, func(attempt int) error {
		if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if attempt > 0 {
			p.metrics().IncRetry(metrics.ComponentProvision, "remove")
		}
		makeWritable(dir)
		return os.RemoveAll(dir)
	})
	if err != nil {
		return errs.Wrap(errs.KindPartialState, "clear "+dir, err)
	}
	return nil
}

func makeWritable(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return nil
		}
		if info.Mode().Perm()&0o200 == 0 {
			_ = os.Chmod(path, info.Mode().Perm()|0o200)
		}
		return nil
	})
}
