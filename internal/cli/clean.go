package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cppdev/internal/build"
	"cppdev/internal/config"
	"cppdev/internal/paths"
)

var cleanDryRun bool

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build output (build dir and configured clean_dirs)",
		RunE:  runCleanBuild,
	}
	cmd.PersistentFlags().BoolVar(&cleanDryRun, "dry-run", false, "List what would be removed without deleting")

	cmd.AddCommand(&cobra.Command{
		Use:   "downloads",
		Short: "Remove cached installer downloads",
		RunE:  runCleanDownloads,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "logs",
		Short: "Remove log files",
		RunE:  runCleanLogs,
	})
	return cmd
}

type cleanResult struct {
	Removed    []string `json:"removed"`
	FreedBytes int64    `json:"freed_bytes"`
	DryRun     bool     `json:"dry_run"`
}

func runCleanBuild(cmd *cobra.Command, _ []string) error {
	pp, err := resolveCleanPaths()
	if err != nil {
		return err
	}
	cfg, err := config.Load(pp.ConfigFile)
	if err != nil {
		return err
	}
	pp = paths.ApplyConfig(pp, cfg)

	job := build.Job{ProjectDir: pp.Root, BuildDir: pp.BuildDir, CleanDirs: cfg.Build.CleanDirs}
	result := cleanResult{DryRun: cleanDryRun}

	for _, dir := range cleanTargetsPreview(pp, cfg) {
		measure(dir, &result)
	}
	if !cleanDryRun {
		if _, err := build.Clean(cmd.Context(), job); err != nil {
			return err
		}
	}
	return writeCleanResult(cmd.OutOrStdout(), "build", result)
}

func runCleanDownloads(cmd *cobra.Command, _ []string) error {
	data, err := paths.Data()
	if err != nil {
		return err
	}
	return cleanChildren(cmd.OutOrStdout(), "downloads", data.Downloads)
}

func runCleanLogs(cmd *cobra.Command, _ []string) error {
	data, err := paths.Data()
	if err != nil {
		return err
	}
	return cleanChildren(cmd.OutOrStdout(), "logs", data.LogsDir)
}

func resolveCleanPaths() (paths.ProjectPaths, error) {
	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return pp, err
	}
	exists, err := paths.DirExists(pp.Root)
	if err != nil {
		return pp, fmt.Errorf("stat project dir: %w", err)
	}
	if !exists {
		return pp, fmt.Errorf("project directory does not exist: %s", pp.Root)
	}
	return pp, nil
}

// cleanTargetsPreview lists the existing directories a build clean removes.
func cleanTargetsPreview(pp paths.ProjectPaths, cfg config.Config) []string {
	dirs := []string{pp.BuildDir}
	for _, d := range cfg.Build.CleanDirs {
		if d != "" {
			dirs = append(dirs, pp.Resolve(d))
		}
	}
	var existing []string
	for _, d := range dirs {
		if ok, _ := paths.DirExists(d); ok {
			existing = append(existing, d)
		}
	}
	return existing
}

// cleanChildren removes every entry below dir, keeping dir itself.
func cleanChildren(out io.Writer, label, dir string) error {
	result := cleanResult{DryRun: cleanDryRun}
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		measure(path, &result)
		if cleanDryRun {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return writeCleanResult(out, label, result)
}

func measure(path string, result *cleanResult) {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	result.Removed = append(result.Removed, path)
	result.FreedBytes += size
}

func writeCleanResult(out io.Writer, label string, result cleanResult) error {
	if outputJSON {
		return json.NewEncoder(out).Encode(result)
	}

	verb := "removed"
	action := "complete"
	if cleanDryRun {
		verb = "would remove"
		action = "(dry run)"
	}
	for _, path := range result.Removed {
		fmt.Fprintf(out, "%s %s\n", verb, path)
	}
	fmt.Fprintf(out, "Clean %s %s: %d removed, %s freed\n",
		label, action, len(result.Removed), humanize.Bytes(uint64(result.FreedBytes)))
	return nil
}
