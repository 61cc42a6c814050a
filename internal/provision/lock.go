package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/task"
)

const lockRetryInterval = 100 * time.Millisecond

// installLock is written into <kind>.lock by the holder.
type installLock struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Created time.Time `json:"created"`
}

// lockBudget is how long a holder may keep a lock: one install plus the
// sentinel poll. Older locks are treated as abandoned.
func (p *Provisioner) lockBudget() time.Duration {
	return p.InstallTimeout + p.PollInterval*time.Duration(p.PollAttempts)
}

// acquireInstallLock serialises installs of the same tool across processes.
// A lock whose owner has exited, or which is older than lockBudget, is taken
// over. Waiting on a live owner is bounded by LockWait.
func (p *Provisioner) acquireInstallLock(ctx context.Context, tool string, rep task.Reporter) (func(), error) {
	if p.LocksDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(p.LocksDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare locks dir: %w", err)
	}

	lockPath := filepath.Join(p.LocksDir, fmt.Sprintf("%s.lock", tool))
	maxWait := p.LockWait
	if maxWait <= 0 {
		maxWait = p.lockBudget()
	}
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	waiting := false
	for {
		ok, err := createLock(lockPath)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = os.Remove(lockPath) }, nil
		}

		holder, reason, held := p.inspectLock(lockPath)
		if !held {
			continue
		}
		if reason != "" {
			p.logger().Warn("removing stale install lock",
				zap.String("lock", lockPath),
				zap.Int("pid", holder.PID),
				zap.String("reason", reason))
			if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("remove stale lock: %w", err)
			}
			continue
		}

		if !waiting {
			waiting = true
			rep.Status(fmt.Sprintf("Waiting for another install of %s (pid %d)", tool, holder.PID))
			p.logger().Info("install lock held", zap.String("lock", lockPath), zap.Int("pid", holder.PID))
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.KindInstallFailure, "acquire install lock",
				fmt.Sprintf("another install of %s is still running (pid %d, lock %s)", tool, holder.PID, lockPath))
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindCancelled, "acquire install lock", ctx.Err())
		case <-ticker.C:
		}
	}
}

// createLock reports false when another holder owns path.
func createLock(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	host, _ := os.Hostname()
	encErr := json.NewEncoder(f).Encode(installLock{PID: os.Getpid(), Host: host, Created: time.Now().UTC()})
	closeErr := f.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("write lock: %w", err)
	}
	return true, nil
}

// inspectLock reads the lock at path. held is false when the lock vanished
// since the create attempt. reason is non-empty when the lock can be taken
// over. A lock that is unreadable or half written is judged by its
// modification time alone.
func (p *Provisioner) inspectLock(path string) (holder installLock, reason string, held bool) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return holder, "", false
	}
	if err != nil {
		return holder, "", true
	}
	created := info.ModTime()
	if data, err := os.ReadFile(path); err == nil && json.Unmarshal(data, &holder) == nil && !holder.Created.IsZero() {
		created = holder.Created
	}

	if age := time.Since(created); age > p.lockBudget() {
		return holder, fmt.Sprintf("older than %s", p.lockBudget()), true
	}
	host, _ := os.Hostname()
	if holder.PID > 0 && (holder.Host == "" || holder.Host == host) && !processAlive(holder.PID) {
		return holder, "owner exited", true
	}
	return holder, "", true
}
