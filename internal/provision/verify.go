package provision

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/probe"
	"cppdev/internal/task"
)

// waitForSentinel polls at PollInterval, at most PollAttempts times, for the
// sentinel under the destination or a fallback root. Filesystem events under
// the destination wake the loop early; the iteration cap still applies.
func (p *Provisioner) waitForSentinel(ctx context.Context, job Job, rep task.Reporter) (string, error) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := p.PollAttempts
	if attempts <= 0 {
		attempts = 1
	}

	wake, stop := watchDir(job.DestDir, p.logger())
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= attempts; i++ {
		path, found, err := p.findSentinel(ctx, job)
		if err != nil {
			return "", err
		}
		if found {
			return path, nil
		}
		// The download already used the determinate scale; polling has no
		// meaningful fraction of work done.
		rep.Progress(0, 0)
		if i == attempts {
			break
		}
		rep.Status(fmt.Sprintf("Waiting for %s to appear (check %d of %d)", job.Sentinel, i, attempts))
		select {
		case <-ctx.Done():
			return "", errs.Wrap(errs.KindCancelled, "verify "+string(job.Kind), ctx.Err())
		case <-ticker.C:
		case <-wake:
		}
	}

	return "", &errs.Error{
		Kind:    errs.KindVerificationTimeout,
		Op:      "verify " + string(job.Kind),
		Message: fmt.Sprintf("%s not detected after %d checks", job.Sentinel, attempts),
	}
}

// findSentinel checks the destination, then each fallback root. A sentinel
// found under a fallback root is relocated into the destination first.
func (p *Provisioner) findSentinel(ctx context.Context, job Job) (string, bool, error) {
	if path, ok := sentinelUnder(job.DestDir, job.Sentinel); ok {
		return path, true, nil
	}
	for _, root := range job.FallbackRoots {
		if strings.TrimSpace(root) == "" || samePath(root, job.DestDir) {
			continue
		}
		if _, ok := sentinelUnder(root, job.Sentinel); !ok {
			continue
		}
		p.logger().Info("sentinel found under fallback root, relocating",
			zap.String("kind", string(job.Kind)), zap.String("root", root), zap.String("dest", job.DestDir))
		if err := p.relocate(ctx, root, job.DestDir); err != nil {
			return "", false, err
		}
		if path, ok := sentinelUnder(job.DestDir, job.Sentinel); ok {
			return path, true, nil
		}
		return "", false, fmt.Errorf("sentinel missing after relocating %s", root)
	}
	return "", false, nil
}

func sentinelUnder(root, sentinel string) (string, bool) {
	path, ok := probe.Expand(root, sentinel)
	if !ok || !probe.IsFile(path) {
		return "", false
	}
	return path, true
}

// relocate moves src to dest, copying when a rename is not possible such as
// across volumes. The source is left in place when it cannot be removed.
func (p *Provisioner) relocate(ctx context.Context, src, dest string) error {
	if err := p.clearDir(ctx, dest); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare destination parent: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyTree(src, dest); err != nil {
		_ = os.RemoveAll(dest)
		return errs.Wrap(errs.KindPartialState, "relocate "+src, err)
	}
	if err := os.RemoveAll(src); err != nil {
		p.logger().Warn("fallback root left in place", zap.String("root", src), zap.Error(err))
	}
	return nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dest, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}

func samePath(a, b string) bool {
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if runtime.GOOS == "windows" {
		return strings.EqualFold(ca, cb)
	}
	return ca == cb
}

// watchDir returns a channel that receives after filesystem activity in dir
// or its parent. Watch failures degrade to plain polling.
func watchDir(dir string, logger *zap.Logger) (<-chan struct{}, func()) {
	wake := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable", zap.Error(err))
		return wake, func() {}
	}

	added := false
	for _, candidate := range []string{dir, filepath.Dir(dir)} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			if err := watcher.Add(candidate); err == nil {
				added = true
			}
		}
	}
	if !added {
		_ = watcher.Close()
		return wake, func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debug("fsnotify error", zap.Error(err))
			}
		}
	}()

	return wake, func() {
		close(done)
		_ = watcher.Close()
	}
}
