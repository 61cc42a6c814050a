package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cppdev/internal/build"
	"cppdev/internal/errs"
	"cppdev/internal/task"
	"cppdev/internal/tui"
)

var (
	buildMode      string
	buildClean     bool
	buildDefines   []string
	buildGenerator string
	buildDir       string
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Configure and compile the project with CMake",
		RunE:  runBuild,
	}
	cmd.Flags().StringVarP(&buildMode, "mode", "m", "", "Build mode: Debug, Release or RelWithDebInfo (default from config)")
	cmd.Flags().BoolVar(&buildClean, "clean", false, "Remove previous build output first")
	cmd.Flags().StringArrayVarP(&buildDefines, "define", "D", nil, "Extra CMake cache entries (KEY=VALUE), repeatable")
	cmd.Flags().StringVarP(&buildGenerator, "generator", "G", "", "CMake generator (default: Ninja when available)")
	cmd.Flags().StringVar(&buildDir, "build-dir", "", "Build directory (default from config)")
	return cmd
}

func runBuild(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := buildJob(s)
	if err != nil {
		return err
	}

	pipeline := build.New(s.Resolver, s.Logger)
	pipeline.Metrics = s.Metrics

	specs := []jobSpec[build.Result]{{
		Key:   "build",
		Label: string(job.Mode),
		Work: func(ctx context.Context, ctl *task.Control) (build.Result, error) {
			return pipeline.Run(ctx, job, ctl)
		},
		Fields: func(res build.Result) map[string]string {
			return map[string]string{"DETAIL": fmt.Sprintf("%s in %s", res.BuildDir, res.Duration.Round(10*time.Millisecond))}
		},
	}}
	results := runJobs(cmd, s, "Building "+s.Project.Root, specs)
	res := results[0]
	if res.Outcome != task.OutcomeSuccess && res.Err == nil {
		res.Err = fmt.Errorf("build did not complete: %s", res.Outcome)
	}

	if outputJSON {
		out := struct {
			build.Result
			Outcome string `json:"outcome"`
			Error   string `json:"error,omitempty"`
		}{Result: res.Value, Outcome: res.Outcome.String()}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		if err := writeJSON(cmd, out); err != nil {
			return err
		}
		return res.Err
	}

	switch res.Outcome {
	case task.OutcomeSuccess:
		cmd.Printf("Build succeeded: %s (%s, %s)\n", res.Value.BuildDir, job.Mode, tui.NonEmptyOrDash(res.Value.Generator))
		return nil
	case task.OutcomeCancelled:
		cmd.Println("Build cancelled")
		return res.Err
	default:
		printFailureOutput(cmd, res.Err)
		return res.Err
	}
}

func buildJob(s *session) (build.Job, error) {
	modeValue := buildMode
	if modeValue == "" {
		modeValue = s.Config.Build.Mode
	}
	mode, err := build.ParseMode(modeValue)
	if err != nil {
		return build.Job{}, err
	}

	dir := s.Project.BuildDir
	if buildDir != "" {
		dir = s.Project.Resolve(buildDir)
	}
	generator := s.Config.Build.Generator
	if buildGenerator != "" {
		generator = buildGenerator
	}
	defines := append(append([]string(nil), s.Config.Build.Defines...), buildDefines...)

	return build.Job{
		ProjectDir: s.Project.Root,
		BuildDir:   dir,
		Mode:       mode,
		Defines:    defines,
		Generator:  generator,
		Clean:      buildClean || s.Config.Build.Clean,
		CleanDirs:  s.Config.Build.CleanDirs,
	}, nil
}

// printFailureOutput echoes the tail of captured tool output for a failed stage.
func printFailureOutput(cmd *cobra.Command, err error) {
	e, ok := errs.As(err)
	if !ok {
		return
	}
	output := strings.TrimSpace(e.Output())
	if output == "" {
		return
	}
	lines := strings.Split(output, "\n")
	if len(lines) > failureTailLines {
		lines = lines[len(lines)-failureTailLines:]
	}
	cmd.PrintErrf("--- %s output ---\n%s\n", tui.NonEmptyOrDash(e.Stage), strings.Join(lines, "\n"))
}

const failureTailLines = 40
