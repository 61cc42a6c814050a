// Package provision downloads, installs and verifies tools that the resolver
// could not find.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
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
	"cppdev/internal/tools"
)

// DestPlaceholder in installer arguments is replaced by the job destination.
const DestPlaceholder = "{dest}"

// State is the lifecycle position of a provisioning job.
type State string

const (
	StateDownloading   State = "downloading"
	StateInstalling    State = "installing"
	StateVerifying     State = "verifying"
	StateInstalled     State = "installed"
	StateFailed        State = "failed"
	StatePendingManual State = "pending_manual"
	StateNotDetected   State = "not_detected"
)

// Job describes one tool installation.
type Job struct {
	ID            string
	Kind          tools.Kind
	URL           string
	SHA256        string
	DestDir       string
	InstallArgs   [][]string
	Sentinel      string
	FallbackRoots []string
}

// Result reports how far a job got.
type Result struct {
	JobID    string
	Kind     tools.Kind
	State    State
	Path     string
	Artifact string
	Attempts []AttemptResult
	Warnings []string
}

// AttemptResult records one silent installer invocation.
type AttemptResult struct {
	Args     []string
	ExitCode int
	Err      string
}

// PathRecorder persists a verified tool location. *tools.Resolver satisfies it.
type PathRecorder interface {
	Record(kind tools.Kind, path string, source tools.Source) (tools.Resolved, error)
}

// Provisioner runs provisioning jobs.
type Provisioner struct {
	Downloads string
	LocksDir  string
	Runner    runner.Runner
	Recorder  PathRecorder
	Client    *http.Client

	InstallTimeout time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	RemovePolicy   retry.Policy

	// LockWait bounds the wait on another live install of the same tool.
	// Zero waits for at most the install and poll budget.
	LockWait time.Duration

	// Launch starts an installer interactively without waiting for it.
	Launch  func(path string) error
	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// New returns a provisioner with default timings.
func New(downloads, locksDir string, recorder PathRecorder, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		Downloads:      downloads,
		LocksDir:       locksDir,
		Runner:         runner.CmdRunner{},
		Recorder:       recorder,
		Client:         &http.Client{},
		InstallTimeout: 15 * time.Minute,
		PollInterval:   5 * time.Second,
		PollAttempts:   360,
		RemovePolicy:   defaultRemovePolicy(),
		Launch:         launchInteractive,
		Logger:         logx.OrNop(logger),
		Metrics:        metrics.NoopRecorder{},
	}
}

// Provision downloads the job artifact, installs it and verifies the sentinel.
// When every silent installer attempt fails the installer is launched
// interactively and the result is StatePendingManual with a nil error; call
// Verify later to pick the installation up.
func (p *Provisioner) Provision(ctx context.Context, job Job, rep task.Reporter) (Result, error) {
	if rep == nil {
		rep = task.Discard
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	res := Result{JobID: job.ID, Kind: job.Kind, State: StateDownloading}
	if err := job.validate(); err != nil {
		res.State = StateFailed
		return res, err
	}
	log := p.logger().With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))

	unlock, err := p.acquireInstallLock(ctx, string(job.Kind), rep)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	defer unlock()

	started := time.Now()
	rep.Status(fmt.Sprintf("Downloading %s", job.URL))
	artifact, warnings, err := p.download(ctx, job, rep)
	res.Warnings = append(res.Warnings, warnings...)
	p.metrics().ObserveStageDuration(metrics.ComponentProvision, string(StateDownloading), time.Since(started))
	if err != nil {
		log.Error("download failed", zap.Error(err))
		return p.fail(res, err)
	}
	res.Artifact = artifact
	log.Info("downloaded", zap.String("artifact", artifact))

	res.State = StateInstalling
	started = time.Now()
	if format := detectArchive(job.URL); format != archiveNone {
		rep.Status("Extracting " + artifact)
		if err := p.installArchive(ctx, format, artifact, job.DestDir); err != nil {
			log.Error("extract failed", zap.Error(err))
			return p.fail(res, err)
		}
	} else {
		ok, err := p.runSilent(ctx, job, artifact, rep, &res)
		if err != nil {
			return p.fail(res, err)
		}
		if !ok {
			return p.fallbackInteractive(job, artifact, rep, res)
		}
	}
	p.metrics().ObserveStageDuration(metrics.ComponentProvision, string(StateInstalling), time.Since(started))

	return p.verify(ctx, job, rep, res)
}

// Verify polls for the job sentinel without downloading or installing.
func (p *Provisioner) Verify(ctx context.Context, job Job, rep task.Reporter) (Result, error) {
	if rep == nil {
		rep = task.Discard
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if strings.TrimSpace(job.Sentinel) == "" || strings.TrimSpace(job.DestDir) == "" {
		return Result{JobID: job.ID, Kind: job.Kind, State: StateFailed}, errors.New("verify requires destination and sentinel")
	}
	return p.verify(ctx, job, rep, Result{JobID: job.ID, Kind: job.Kind})
}

func (p *Provisioner) verify(ctx context.Context, job Job, rep task.Reporter, res Result) (Result, error) {
	res.State = StateVerifying
	started := time.Now()
	path, err := p.waitForSentinel(ctx, job, rep)
	p.metrics().ObserveStageDuration(metrics.ComponentProvision, string(StateVerifying), time.Since(started))
	if err != nil {
		if errors.Is(err, errs.ErrVerificationTimeout) {
			res.State = StateNotDetected
			p.metrics().IncOutcome(metrics.ComponentProvision, metrics.OutcomeNotDetected)
			return res, err
		}
		return p.fail(res, err)
	}

	res.Path = path
	res.State = StateInstalled
	if p.Recorder != nil {
		if _, err := p.Recorder.Record(job.Kind, path, tools.SourceProvisioned); err != nil {
			res.Warnings = append(res.Warnings, "persist tool path: "+err.Error())
			p.logger().Warn("persist provisioned path", zap.String("kind", string(job.Kind)), zap.Error(err))
		}
	}
	rep.Status(fmt.Sprintf("Installed %s at %s", job.Kind, path))
	p.metrics().IncOutcome(metrics.ComponentProvision, metrics.OutcomeSuccess)
	return res, nil
}

func (p *Provisioner) fallbackInteractive(job Job, artifact string, rep task.Reporter, res Result) (Result, error) {
	rep.Status("Silent install failed; launching the installer interactively")
	launch := p.Launch
	if launch == nil {
		launch = launchInteractive
	}
	if err := launch(artifact); err != nil {
		cause := fmt.Errorf("all %d silent attempts failed; interactive launch: %w", len(res.Attempts), err)
		return p.fail(res, errs.Wrap(errs.KindInstallFailure, "install "+string(job.Kind), cause))
	}
	res.State = StatePendingManual
	p.logger().Info("installer launched interactively", zap.String("kind", string(job.Kind)), zap.String("artifact", artifact))
	p.metrics().IncOutcome(metrics.ComponentProvision, metrics.OutcomePendingManual)
	return res, nil
}

func (p *Provisioner) fail(res Result, err error) (Result, error) {
	res.State = StateFailed
	if errs.KindOf(err) == errs.KindCancelled {
		p.metrics().IncOutcome(metrics.ComponentProvision, metrics.OutcomeCanceled)
	} else {
		p.metrics().IncOutcome(metrics.ComponentProvision, metrics.OutcomeFailed)
	}
	return res, err
}

func (j Job) validate() error {
	switch {
	case strings.TrimSpace(j.URL) == "":
		return fmt.Errorf("provision %s: download url required", j.Kind)
	case strings.TrimSpace(j.DestDir) == "":
		return fmt.Errorf("provision %s: destination directory required", j.Kind)
	case strings.TrimSpace(j.Sentinel) == "":
		return fmt.Errorf("provision %s: sentinel path required", j.Kind)
	}
	return nil
}

// ExpandArgs substitutes the destination placeholder in args.
func ExpandArgs(args []string, dest string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, DestPlaceholder, dest)
	}
	return out
}

// defaultRemovePolicy allows three removal attempts in total.
func defaultRemovePolicy() retry.Policy {
	return retry.NewPolicy(retry.BackoffLinear, 200*time.Millisecond, time.Second, 2)
}

func launchInteractive(path string) error {
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o755); err != nil {
			return fmt.Errorf("mark installer executable: %w", err)
		}
	}
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func (p *Provisioner) logger() *zap.Logger {
	return logx.OrNop(p.Logger)
}

func (p *Provisioner) metrics() metrics.Recorder {
	return metrics.OrNoop(p.Metrics)
}
