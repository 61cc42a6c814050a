package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cppdev/internal/config"
)

// DataHomeEnv overrides the per-user data directory.
const DataHomeEnv = "CPPDEV_HOME"

// ProjectPaths captures canonical locations for a cppdev project.
type ProjectPaths struct {
	Root       string
	ConfigFile string
	DotEnvFile string
	MetaDir    string
	BuildDir   string
	DepsDir    string
}

// DataPaths captures the per-user locations shared by every project.
type DataPaths struct {
	Root      string
	Downloads string
	ToolsDir  string
	ToolsFile string
	LocksDir  string
	LogsDir   string
}

// Resolve determines the project root using the optional --project flag or the
// current working directory when the flag is empty.
func Resolve(projectFlag string) (ProjectPaths, error) {
	var (
		root string
		err  error
	)

	if projectFlag != "" {
		root, err = filepath.Abs(projectFlag)
	} else {
		root, err = os.Getwd()
	}
	if err != nil {
		return ProjectPaths{}, fmt.Errorf("resolve project root: %w", err)
	}

	return newProjectPaths(root), nil
}

func newProjectPaths(root string) ProjectPaths {
	return ProjectPaths{
		Root:       root,
		ConfigFile: filepath.Join(root, "cppdev.yaml"),
		DotEnvFile: filepath.Join(root, ".env"),
		MetaDir:    filepath.Join(root, ".cppdev"),
		BuildDir:   filepath.Join(root, "build"),
		DepsDir:    filepath.Join(root, "third_party"),
	}
}

// ApplyConfig rebases configurable locations onto the project root.
func ApplyConfig(pp ProjectPaths, cfg config.Config) ProjectPaths {
	if dir := strings.TrimSpace(cfg.Build.BuildDir); dir != "" {
		pp.BuildDir = resolveProjectPath(pp.Root, dir)
	}
	return pp
}

// Resolve returns value relative to the project root unless it is absolute.
func (p ProjectPaths) Resolve(value string) string {
	return resolveProjectPath(p.Root, value)
}

func resolveProjectPath(root, value string) string {
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(root, value)
}

// EnsureRoot makes sure the project root exists on disk.
func (p ProjectPaths) EnsureRoot() error {
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fmt.Errorf("create project root: %w", err)
	}
	return nil
}

// EnsureMetaDirs creates the hidden .cppdev metadata directory.
func (p ProjectPaths) EnsureMetaDirs() error {
	if err := os.MkdirAll(p.MetaDir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", p.MetaDir, err)
	}
	return nil
}

// DataRoot determines the per-user data directory. CPPDEV_HOME wins when set.
func DataRoot() (string, error) {
	if override, ok := os.LookupEnv(DataHomeEnv); ok && strings.TrimSpace(override) != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", DataHomeEnv, err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "cppdev"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "cppdev"), nil
		}
		return filepath.Join(home, "AppData", "Local", "cppdev"), nil
	default:
		return filepath.Join(home, ".local", "share", "cppdev"), nil
	}
}

// Data returns the data layout rooted at DataRoot.
func Data() (DataPaths, error) {
	root, err := DataRoot()
	if err != nil {
		return DataPaths{}, err
	}
	return NewDataPaths(root), nil
}

// NewDataPaths lays out the data directory under root.
func NewDataPaths(root string) DataPaths {
	return DataPaths{
		Root:      root,
		Downloads: filepath.Join(root, "downloads"),
		ToolsDir:  filepath.Join(root, "tools"),
		ToolsFile: filepath.Join(root, "tool_paths.json"),
		LocksDir:  filepath.Join(root, "locks"),
		LogsDir:   filepath.Join(root, "logs"),
	}
}

// Ensure creates the data directory hierarchy.
func (d DataPaths) Ensure() error {
	for _, dir := range []string{d.Root, d.Downloads, d.ToolsDir, d.LocksDir, d.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
