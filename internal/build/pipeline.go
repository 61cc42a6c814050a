// Package build drives a CMake configure and compile of a project.
//
// A Pipeline moves through Idle, Cleaning, ResolvingToolchain, Configuring and
// Compiling and ends in Succeeded, Failed or Cancelled. Required tools are
// resolved before any subprocess starts; a missing one fails the build with
// errs.ErrToolchainUnavailable.
//
// Only CMake and a C++ compiler are required. Ninja and the vcpkg package
// index are optional: when Ninja is missing CMake picks its default
// generator, and when vcpkg is missing no toolchain file is passed. Neither
// ever fails a build by being absent.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/logx"
	"cppdev/internal/metrics"
	"cppdev/internal/probe"
	"cppdev/internal/runner"
	"cppdev/internal/task"
	"cppdev/internal/tools"
)

// Job describes one build of a project directory. The build needs CMake and
// a compiler; vcpkg and Ninja are used when they resolve and are never
// required.
type Job struct {
	ID         string
	ProjectDir string
	// BuildDir defaults to ProjectDir/build; relative values are resolved
	// against ProjectDir.
	BuildDir string
	Mode     Mode
	// Defines are passed to configure as -D<define>.
	Defines []string
	// Generator overrides the CMake generator; empty selects Ninja when it
	// resolves and the CMake default otherwise.
	Generator string
	Clean     bool
	// CleanDirs lists extra output directories removed before configuring.
	CleanDirs []string
}

// Result summarises a finished build.
type Result struct {
	JobID     string
	State     State
	BuildDir  string
	Generator string
	Duration  time.Duration
}

// ToolResolver finds build tools. *tools.Resolver satisfies it.
type ToolResolver interface {
	Resolve(ctx context.Context, kind tools.Kind) (tools.Resolved, error)
}

// Pipeline runs builds. A Pipeline tracks the state of one build at a time;
// callers must not run two builds of the same project concurrently.
type Pipeline struct {
	Resolver ToolResolver
	Runner   runner.Runner
	Logger   *zap.Logger
	Metrics  metrics.Recorder
	// OnState observes every state change.
	OnState func(from, to State)

	mu    sync.Mutex
	state State
}

// New returns a pipeline resolving tools through resolver.
func New(resolver ToolResolver, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		Resolver: resolver,
		Runner:   runner.CmdRunner{},
		Logger:   logx.OrNop(logger),
		Metrics:  metrics.NoopRecorder{},
		state:    StateIdle,
	}
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return StateIdle
	}
	return p.state
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.state
	if from == "" {
		from = StateIdle
	}
	if !CanTransition(from, to) {
		p.mu.Unlock()
		p.logger().Warn("ignored invalid build transition", zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	p.state = to
	hook := p.OnState
	p.mu.Unlock()

	if hook != nil {
		hook(from, to)
	}
}

type toolchain struct {
	cmake     string
	compiler  string
	ninja     string
	toolchain string
}

// Run executes job to a terminal state. Cancelling ctx stops the in-flight
// subprocess and ends the build as Cancelled.
func (p *Pipeline) Run(ctx context.Context, job Job, rep task.Reporter) (Result, error) {
	if rep == nil {
		rep = task.Discard
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	started := time.Now()
	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()

	res := Result{JobID: job.ID}
	log := p.logger().With(zap.String("job_id", job.ID), zap.String("project", job.ProjectDir))

	finish := func(err error) (Result, error) {
		res.Duration = time.Since(started)
		switch {
		case err == nil:
			p.transition(StateSucceeded)
			p.metrics().IncOutcome(metrics.ComponentBuild, metrics.OutcomeSuccess)
			log.Info("build succeeded", zap.Duration("duration", res.Duration))
		case errs.KindOf(err) == errs.KindCancelled:
			p.transition(StateCancelled)
			p.metrics().IncOutcome(metrics.ComponentBuild, metrics.OutcomeCanceled)
			log.Info("build cancelled")
		default:
			p.transition(StateFailed)
			p.metrics().IncOutcome(metrics.ComponentBuild, metrics.OutcomeFailed)
			log.Error("build failed", zap.Error(err))
		}
		res.State = p.State()
		return res, err
	}

	if err := normalizeJob(&job); err != nil {
		return finish(err)
	}
	res.BuildDir = job.BuildDir

	if job.Clean {
		p.transition(StateCleaning)
		rep.Status("Cleaning build output")
		if err := p.stage(StateCleaning, func() error { return clean(ctx, job) }); err != nil {
			return finish(err)
		}
	}

	p.transition(StateResolvingToolchain)
	rep.Status("Resolving toolchain")
	var tc toolchain
	if err := p.stage(StateResolvingToolchain, func() error {
		var err error
		tc, err = p.resolveToolchain(ctx, log)
		return err
	}); err != nil {
		return finish(err)
	}

	p.transition(StateConfiguring)
	rep.Status("Configuring " + filepath.Base(job.ProjectDir))
	rep.Progress(0, 0)
	configureArgs, generator := configureArgs(job, tc)
	res.Generator = generator
	if err := p.stage(StateConfiguring, func() error {
		return p.invoke(ctx, string(StateConfiguring), tc.cmake, configureArgs, job.ProjectDir, rep, nil)
	}); err != nil {
		return finish(err)
	}

	p.transition(StateCompiling)
	rep.Status("Compiling")
	buildArgs := []string{"--build", job.BuildDir, "--config", string(job.Mode)}
	if err := p.stage(StateCompiling, func() error {
		return p.invoke(ctx, string(StateCompiling), tc.cmake, buildArgs, job.ProjectDir, rep, func(line string) bool {
			ev, ok := ParseProgress(line)
			if !ok {
				return false
			}
			rep.Progress(int64(ev.Percent), 100)
			if ev.Description != "" {
				rep.Status(ev.Description)
			}
			return true
		})
	}); err != nil {
		return finish(err)
	}

	rep.Progress(100, 100)
	return finish(nil)
}

func (p *Pipeline) stage(state State, fn func() error) error {
	started := time.Now()
	err := fn()
	p.metrics().ObserveStageDuration(metrics.ComponentBuild, string(state), time.Since(started))
	return err
}

func normalizeJob(job *Job) error {
	if strings.TrimSpace(job.ProjectDir) == "" {
		return errors.New("build requires a project directory")
	}
	abs, err := filepath.Abs(job.ProjectDir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	job.ProjectDir = abs
	if job.Mode == "" {
		job.Mode = ModeRelease
	}
	mode, err := ParseMode(string(job.Mode))
	if err != nil {
		return err
	}
	job.Mode = mode
	job.BuildDir = resolveDir(job.ProjectDir, job.BuildDir, "build")
	return nil
}

func resolveDir(root, value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(root, value)
}

// Clean removes the build output of job without building and returns the
// directories it targeted.
func Clean(ctx context.Context, job Job) ([]string, error) {
	if err := normalizeJob(&job); err != nil {
		return nil, err
	}
	return cleanTargets(job), clean(ctx, job)
}

func cleanTargets(job Job) []string {
	dirs := []string{job.BuildDir}
	for _, d := range job.CleanDirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		dirs = append(dirs, resolveDir(job.ProjectDir, d, ""))
	}
	return dirs
}

// clean removes previous build output; missing directories are fine.
func clean(ctx context.Context, job Job) error {
	for _, dir := range cleanTargets(job) {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.KindCancelled, "clean", err)
		}
		if samePath(dir, job.ProjectDir) {
			return fmt.Errorf("refusing to clean the project directory %s", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

func (p *Pipeline) resolveToolchain(ctx context.Context, log *zap.Logger) (toolchain, error) {
	var tc toolchain
	if p.Resolver == nil {
		return tc, errs.ToolchainUnavailable(string(tools.KindCMake), errors.New("no tool resolver configured"))
	}

	required := func(kind tools.Kind) (string, error) {
		resolved, err := p.Resolver.Resolve(ctx, kind)
		if err != nil {
			if errs.KindOf(err) == errs.KindCancelled || ctx.Err() != nil {
				return "", errs.Wrap(errs.KindCancelled, "resolve "+string(kind), errOr(ctx.Err(), err))
			}
			return "", errs.ToolchainUnavailable(string(kind), err)
		}
		return resolved.Path, nil
	}
	optional := func(kind tools.Kind) string {
		resolved, err := p.Resolver.Resolve(ctx, kind)
		if err != nil {
			log.Debug("optional tool unavailable", zap.String("kind", string(kind)), zap.Error(err))
			return ""
		}
		return resolved.Path
	}

	var err error
	if tc.cmake, err = required(tools.KindCMake); err != nil {
		return tc, err
	}
	if tc.compiler, err = required(tools.KindCompiler); err != nil {
		return tc, err
	}
	tc.ninja = optional(tools.KindNinja)
	if vcpkg := optional(tools.KindVcpkg); vcpkg != "" {
		file := filepath.Join(filepath.Dir(vcpkg), "scripts", "buildsystems", "vcpkg.cmake")
		if probe.IsFile(file) {
			tc.toolchain = file
		}
	}
	log.Info("toolchain resolved",
		zap.String("cmake", tc.cmake),
		zap.String("compiler", tc.compiler),
		zap.String("ninja", tc.ninja),
		zap.String("toolchain_file", tc.toolchain))
	return tc, nil
}

func configureArgs(job Job, tc toolchain) ([]string, string) {
	args := []string{"-S", job.ProjectDir, "-B", job.BuildDir, "-DCMAKE_BUILD_TYPE=" + string(job.Mode)}

	generator := strings.TrimSpace(job.Generator)
	if generator == "" && tc.ninja != "" {
		generator = "Ninja"
	}
	if generator != "" {
		args = append(args, "-G", generator)
	}
	if generator == "Ninja" && tc.ninja != "" {
		args = append(args, "-DCMAKE_MAKE_PROGRAM="+filepath.ToSlash(tc.ninja))
	}
	if tc.compiler != "" && !isVisualStudioGenerator(generator) {
		args = append(args, "-DCMAKE_CXX_COMPILER="+filepath.ToSlash(tc.compiler))
	}
	if tc.toolchain != "" {
		args = append(args, "-DCMAKE_TOOLCHAIN_FILE="+filepath.ToSlash(tc.toolchain))
	}
	for _, d := range job.Defines {
		d = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "-D"))
		if d != "" {
			args = append(args, "-D"+d)
		}
	}
	return args, generator
}

func isVisualStudioGenerator(generator string) bool {
	return strings.HasPrefix(generator, "Visual Studio")
}

// invoke runs one cmake stage. Output lines not consumed by onLine are
// forwarded as status.
func (p *Pipeline) invoke(ctx context.Context, stage, cmake string, args []string, dir string, rep task.Reporter, onLine func(string) bool) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, stage, err)
	}
	p.logger().Debug("running cmake", zap.String("stage", stage), zap.Strings("args", args))

	var untrack func()
	res, err := p.runner().Run(ctx, cmake, args, runner.RunOptions{
		Dir: dir,
		OnLine: func(line string) {
			if onLine != nil && onLine(line) {
				return
			}
			if line = strings.TrimRight(line, " \t"); line != "" {
				rep.Status(line)
			}
		},
		OnStart: func(proc *os.Process) {
			untrack = rep.Track(proc)
		},
	})
	if untrack != nil {
		untrack()
	}
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindCancelled, stage, ctx.Err())
		}
		return errs.Subprocess(stage, "cmake "+strings.Join(args, " "), res.Stdout, res.Stderr, err)
	}
	return nil
}

func (p *Pipeline) runner() runner.Runner {
	if p.Runner == nil {
		return runner.CmdRunner{}
	}
	return p.Runner
}

func (p *Pipeline) logger() *zap.Logger { return logx.OrNop(p.Logger) }

func (p *Pipeline) metrics() metrics.Recorder { return metrics.OrNoop(p.Metrics) }

func errOr(primary, fallback error) error {
	if primary != nil {
		return primary
	}
	return fallback
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
