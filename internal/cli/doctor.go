package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"cppdev/internal/config"
	"cppdev/internal/paths"
	"cppdev/internal/runner"
	"cppdev/internal/tools"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check project and toolchain health",
		RunE:  runDoctor,
	}
}

type healthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Summary string `json:"summary"`
}

// requiredKinds must resolve for a build to start.
var requiredKinds = []tools.Kind{tools.KindCMake, tools.KindCompiler}

func runDoctor(cmd *cobra.Command, _ []string) error {
	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return err
	}
	exists, err := paths.DirExists(pp.Root)
	if err != nil {
		return fmt.Errorf("stat project dir: %w", err)
	}
	if !exists {
		return fmt.Errorf("project directory does not exist: %s", pp.Root)
	}

	cfg, cfgErr := config.Load(pp.ConfigFile)
	checks := []healthCheck{checkConfig(pp, cfg, cfgErr)}
	if cfgErr != nil {
		return writeDoctorResult(cmd, pp.Root, checks)
	}

	s, err := openSession(cmd)
	if err != nil {
		checks = append(checks, healthCheck{Name: "Data", Status: "error", Summary: err.Error()})
		return writeDoctorResult(cmd, pp.Root, checks)
	}
	defer s.Close()

	checks = append(checks,
		healthCheck{Name: "Data", Status: "ok", Summary: s.Data.Root},
		checkTools(s.Resolver.Detect(cmd.Context(), runner.CmdRunner{})),
		checkDependencies(s, cfg.Dependencies),
		checkBuildDir(s.Project),
	)
	return writeDoctorResult(cmd, pp.Root, checks)
}

func checkTools(statuses []tools.Status) healthCheck {
	found := make(map[tools.Kind]tools.Status, len(statuses))
	var info, missing []string
	for _, st := range statuses {
		if !st.Found {
			missing = append(missing, string(st.Tool))
			continue
		}
		found[st.Tool] = st
		label := string(st.Tool)
		if st.Version != "" {
			label += " " + st.Version
		}
		info = append(info, label)
	}

	var missingRequired []string
	for _, kind := range requiredKinds {
		if _, ok := found[kind]; !ok {
			missingRequired = append(missingRequired, string(kind))
		}
	}

	switch {
	case len(missingRequired) > 0:
		return healthCheck{Name: "Tools", Status: "error", Summary: "missing required: " + joinComma(missingRequired)}
	case len(missing) > 0:
		return healthCheck{Name: "Tools", Status: "warning", Summary: fmt.Sprintf("%s; missing %s", joinComma(info), joinComma(missing))}
	default:
		return healthCheck{Name: "Tools", Status: "ok", Summary: joinComma(info)}
	}
}

func checkConfig(pp paths.ProjectPaths, cfg config.Config, cfgErr error) healthCheck {
	if cfgErr != nil {
		return healthCheck{Name: "Config", Status: "error", Summary: cfgErr.Error()}
	}

	summary := fmt.Sprintf("%d tool recipes, %d dependencies", len(cfg.Tools), len(cfg.Dependencies))
	exists, err := paths.FileExists(pp.ConfigFile)
	if err != nil {
		return healthCheck{Name: "Config", Status: "error", Summary: err.Error()}
	}
	if !exists {
		return healthCheck{Name: "Config", Status: "warning", Summary: "no " + filepath.Base(pp.ConfigFile) + "; using defaults"}
	}
	return healthCheck{Name: "Config", Status: "ok", Summary: summary}
}

func checkDependencies(s *session, deps []config.DependencyConfig) healthCheck {
	if len(deps) == 0 {
		return healthCheck{Name: "Deps", Status: "ok", Summary: "none declared"}
	}
	var missing []string
	for _, dep := range deps {
		entries, err := os.ReadDir(dependencyDest(s, dep))
		if err != nil || len(entries) == 0 {
			missing = append(missing, dependencyName(dep))
		}
	}
	if len(missing) > 0 {
		return healthCheck{Name: "Deps", Status: "warning", Summary: fmt.Sprintf("%d of %d not fetched: %s", len(missing), len(deps), joinComma(missing))}
	}
	return healthCheck{Name: "Deps", Status: "ok", Summary: fmt.Sprintf("%d fetched", len(deps))}
}

func checkBuildDir(pp paths.ProjectPaths) healthCheck {
	exists, err := paths.FileExists(filepath.Join(pp.BuildDir, "CMakeCache.txt"))
	if err != nil {
		return healthCheck{Name: "Build", Status: "warning", Summary: err.Error()}
	}
	if !exists {
		return healthCheck{Name: "Build", Status: "ok", Summary: "not configured yet"}
	}
	return healthCheck{Name: "Build", Status: "ok", Summary: "configured in " + pp.BuildDir}
}

func writeDoctorResult(cmd *cobra.Command, projectRoot string, checks []healthCheck) error {
	if outputJSON {
		data, err := json.MarshalIndent(checks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	bold := lipgloss.NewStyle().Bold(true).Inline(true)
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Inline(true)
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Inline(true)
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Inline(true)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, bold.Render("PROJECT HEALTH:")+" "+projectRoot)

	for _, c := range checks {
		var statusStr string
		switch c.Status {
		case "ok":
			statusStr = green.Render("OK")
		case "warning":
			statusStr = yellow.Render("WARN")
		case "error":
			statusStr = red.Render("ERROR")
		}
		fmt.Fprintf(out, "  %-8s %s    %s\n", c.Name+":", statusStr, c.Summary)
	}
	return nil
}

func joinComma(items []string) string {
	if len(items) == 0 {
		return ""
	}
	result := items[0]
	for _, item := range items[1:] {
		result += ", " + item
	}
	return result
}
