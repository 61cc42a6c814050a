package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cppdev/internal/config"
	"cppdev/internal/paths"
)

var configShowPaths bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit project configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration in YAML",
		RunE:  runConfigShow,
	}
	show.Flags().BoolVar(&configShowPaths, "paths", false, "Also print the resolved project and data directories")

	cmd.AddCommand(show)
	cmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open cppdev.yaml in $EDITOR",
		RunE:  runConfigEdit,
	})
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(pp.ConfigFile)
	if err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))
	if len(data) == 0 || data[len(data)-1] != '\n' {
		fmt.Fprintln(out)
	}

	if configShowPaths {
		pp = paths.ApplyConfig(pp, cfg)
		dp, err := paths.Data()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n# project: %s\n# build:   %s\n# deps:    %s\n# data:    %s\n# logs:    %s\n",
			pp.Root, pp.BuildDir, pp.DepsDir, dp.Root, dp.LogsDir)
	}
	return nil
}

func runConfigEdit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return err
	}
	if err := pp.EnsureRoot(); err != nil {
		return err
	}
	if _, err := ensureConfigFileExists(pp); err != nil {
		return err
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("invalid EDITOR value: %q", editor)
	}
	parts = append(parts, pp.ConfigFile)

	// The editor owns the terminal, so it is not run through the line runner.
	execCmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	execCmd.Stdout = cmd.OutOrStdout()
	execCmd.Stderr = cmd.ErrOrStderr()
	execCmd.Stdin = cmd.InOrStdin()
	execCmd.Dir = pp.Root

	if err := execCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	if _, err := config.Load(pp.ConfigFile); err != nil {
		cmd.PrintErrf("warning: %s no longer parses: %v\n", pp.ConfigFile, err)
	}
	return nil
}

// ensureConfigFileExists writes the default config when none exists. It
// reports whether a file was created.
func ensureConfigFileExists(pp paths.ProjectPaths) (bool, error) {
	if _, err := os.Stat(pp.ConfigFile); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pp.ConfigFile), 0o755); err != nil {
		return false, fmt.Errorf("ensure config dir: %w", err)
	}

	data, err := config.Default().Marshal()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(pp.ConfigFile, data, 0o644); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}
