package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cppdev/internal/config"
	"cppdev/internal/logx"
	"cppdev/internal/paths"
)

const (
	dotEnvTemplate = `# Local overrides for cppdev. Values here sit above the process environment.
# CPPDEV_ROOT=C:\dev
# CMAKE_GENERATOR=Ninja
`
	cmakeListsTemplate = `cmake_minimum_required(VERSION 3.20)
project(%s LANGUAGES CXX)

set(CMAKE_CXX_STANDARD 20)
set(CMAKE_CXX_STANDARD_REQUIRED ON)
set(CMAKE_EXPORT_COMPILE_COMMANDS ON)

add_executable(%s src/main.cpp)
`
	mainCppTemplate = `#include <iostream>

int main() {
    std::cout << "hello from %s\n";
    return 0;
}
`
	gitignoreTemplate = `/build/
/.cppdev/
/.env
`
)

// scaffoldFile is a project file written by init when absent.
type scaffoldFile struct {
	rel     string
	content func() ([]byte, error)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a cppdev project",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
}

func resolveInitDir(projectFlag string, args []string) (string, error) {
	if projectFlag != "" {
		return projectFlag, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	if len(args) > 0 {
		if args[0] == "." {
			return cwd, nil
		}
		return filepath.Join(cwd, args[0]), nil
	}

	return nextAvailableDir(cwd)
}

func nextAvailableDir(base string) (string, error) {
	for i := 1; ; i++ {
		candidate := filepath.Join(base, fmt.Sprintf("cppdev-%d", i))
		exists, err := paths.DirExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := resolveInitDir(projectDir, args)
	if err != nil {
		return err
	}

	pp, err := paths.Resolve(dir)
	if err != nil {
		return err
	}
	if err := pp.EnsureRoot(); err != nil {
		return err
	}
	if err := pp.EnsureMetaDirs(); err != nil {
		return err
	}

	logger, closer, err := logx.New(filepath.Join(pp.MetaDir, "logs"), verbose)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("init", zap.String("project", pp.Root))

	created, err := scaffold(pp, logger)
	if err != nil {
		return err
	}

	if len(created) == 0 {
		cmd.Printf("Project already initialized at %s\n", pp.Root)
		return nil
	}

	cmd.Printf("Initialized project at %s\n", pp.Root)
	for _, entry := range created {
		cmd.Printf("  created %s\n", entry)
	}
	return nil
}

// scaffold writes every missing project file and returns the relative paths
// it created. Existing files are never touched.
func scaffold(pp paths.ProjectPaths, logger *zap.Logger) ([]string, error) {
	name := filepath.Base(pp.Root)
	files := []scaffoldFile{
		{rel: filepath.Base(pp.ConfigFile), content: func() ([]byte, error) {
			cfg := config.Default()
			cfg.ApplyDefaults()
			return cfg.Marshal()
		}},
		{rel: filepath.Base(pp.DotEnvFile), content: staticContent(dotEnvTemplate)},
		{rel: ".gitignore", content: staticContent(gitignoreTemplate)},
		{rel: "CMakeLists.txt", content: staticContent(fmt.Sprintf(cmakeListsTemplate, name, name))},
		{rel: filepath.Join("src", "main.cpp"), content: staticContent(fmt.Sprintf(mainCppTemplate, name))},
	}

	created := make([]string, 0, len(files))
	for _, f := range files {
		target := filepath.Join(pp.Root, f.rel)
		exists, err := paths.FileExists(target)
		if err != nil {
			return created, fmt.Errorf("check %s: %w", f.rel, err)
		}
		if exists {
			logger.Debug("exists", zap.String("path", target))
			continue
		}
		data, err := f.content()
		if err != nil {
			return created, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return created, fmt.Errorf("create %s: %w", filepath.Dir(f.rel), err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", f.rel, err)
		}
		logger.Info("created", zap.String("path", target))
		created = append(created, filepath.ToSlash(f.rel))
	}
	return created, nil
}

func staticContent(s string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(s), nil }
}
