package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cppdev/internal/config"
	"cppdev/internal/errs"
	"cppdev/internal/fetch"
	"cppdev/internal/task"
	"cppdev/internal/tools"
)

var (
	depsRef   string
	depsForce bool
)

func newDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Vendor source dependencies into the project",
	}
	cmd.PersistentFlags().BoolVar(&depsForce, "force", false, "Replace destinations that already exist")

	fetchCmd := &cobra.Command{
		Use:   "fetch <repo> <path> <dest>",
		Short: "Fetch one repository subtree into dest",
		Args:  cobra.ExactArgs(3),
		RunE:  runDepsFetch,
	}
	fetchCmd.Flags().StringVar(&depsRef, "ref", "", "Branch or ref to fetch (default: remote HEAD)")

	cmd.AddCommand(fetchCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Fetch every dependency declared in the project config",
		RunE:  runDepsSync,
	})
	return cmd
}

func runDepsFetch(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	dep := config.DependencyConfig{Name: filepath.Base(args[2]), Repo: args[0], Path: args[1], Dest: args[2]}
	return fetchDependencies(cmd, s, []config.DependencyConfig{dep}, depsRef)
}

func runDepsSync(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(s.Config.Dependencies) == 0 {
		cmd.Printf("No dependencies declared in %s\n", s.Project.ConfigFile)
		return nil
	}
	return fetchDependencies(cmd, s, s.Config.Dependencies, "")
}

type depResult struct {
	Name     string   `json:"name"`
	Dest     string   `json:"dest"`
	Strategy string   `json:"strategy,omitempty"`
	Files    int      `json:"files"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func fetchDependencies(cmd *cobra.Command, s *session, deps []config.DependencyConfig, ref string) error {
	gitPath := ""
	if resolved, err := s.Resolver.Resolve(cmd.Context(), tools.KindGit); err == nil {
		gitPath = resolved.Path
	} else {
		s.Logger.Warn("git not resolved; using in-process clone", zap.Error(err))
	}

	fetcher := fetch.New(gitPath, s.Logger)
	fetcher.Metrics = s.Metrics

	specs := make([]jobSpec[fetch.Result], 0, len(deps))
	for _, dep := range deps {
		name := dependencyName(dep)
		job := fetch.Job{Repo: dep.Repo, Path: dep.Path, Ref: ref, Dest: dependencyDest(s, dep)}
		specs = append(specs, jobSpec[fetch.Result]{
			Key:   name,
			Label: name,
			Work: func(ctx context.Context, ctl *task.Control) (fetch.Result, error) {
				if depsForce {
					if err := os.RemoveAll(job.Dest); err != nil {
						return fetch.Result{}, errs.Wrap(errs.KindPartialState, "replace "+job.Dest, err)
					}
				}
				return fetcher.Fetch(ctx, job, ctl)
			},
			Fields: func(res fetch.Result) map[string]string {
				return map[string]string{"STATUS": "fetched", "DETAIL": fmt.Sprintf("%d files via %s", res.Files, res.Strategy)}
			},
		})
	}

	results := runJobs(cmd, s, "Fetching dependencies", specs)

	summary := make([]depResult, len(results))
	var errList []error
	for i, r := range results {
		dr := depResult{
			Name:     specs[i].Key,
			Dest:     dependencyDest(s, deps[i]),
			Strategy: string(r.Value.Strategy),
			Files:    r.Value.Files,
			Warnings: r.Value.Warnings,
		}
		if r.Err != nil {
			dr.Error = r.Err.Error()
			errList = append(errList, fmt.Errorf("%s: %w", dr.Name, r.Err))
		}
		summary[i] = dr
	}

	if outputJSON {
		if err := writeJSON(cmd, summary); err != nil {
			return err
		}
	} else {
		for _, dr := range summary {
			if dr.Error != "" {
				cmd.Printf("%-16s failed   %s\n", dr.Name, dr.Error)
				continue
			}
			cmd.Printf("%-16s %-8s %d files -> %s\n", dr.Name, dr.Strategy, dr.Files, dr.Dest)
			for _, w := range dr.Warnings {
				cmd.Printf("  warning: %s\n", w)
			}
		}
	}
	return errors.Join(errList...)
}

func dependencyName(dep config.DependencyConfig) string {
	if name := strings.TrimSpace(dep.Name); name != "" {
		return name
	}
	base := strings.TrimSuffix(filepath.Base(strings.TrimRight(dep.Repo, "/")), ".git")
	if base == "" || base == "." {
		return "dependency"
	}
	return base
}

// dependencyDest resolves dep.Dest against the project, defaulting to
// third_party/<name>.
func dependencyDest(s *session, dep config.DependencyConfig) string {
	dest := strings.TrimSpace(dep.Dest)
	if dest == "" {
		return filepath.Join(s.Project.DepsDir, dependencyName(dep))
	}
	return s.Project.Resolve(dest)
}
