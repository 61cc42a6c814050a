package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the toolchain and build configuration for a project.
type Config struct {
	Version      int                   `yaml:"version"`
	DevRoot      string                `yaml:"dev_root,omitempty"`
	Build        BuildConfig           `yaml:"build"`
	Provisioning ProvisioningConfig    `yaml:"provisioning"`
	Tools        map[string]ToolConfig `yaml:"tools,omitempty"`
	Dependencies []DependencyConfig    `yaml:"dependencies,omitempty"`
}

// BuildConfig holds defaults for the build pipeline.
type BuildConfig struct {
	Mode      string   `yaml:"mode"`
	BuildDir  string   `yaml:"build_dir"`
	Generator string   `yaml:"generator,omitempty"`
	Defines   []string `yaml:"defines,omitempty"`
	Clean     bool     `yaml:"clean"`
	CleanDirs []string `yaml:"clean_dirs,omitempty"`
}

// ProvisioningConfig tunes installer timeouts and sentinel polling.
type ProvisioningConfig struct {
	InstallTimeout string `yaml:"install_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	PollAttempts   int    `yaml:"poll_attempts"`
}

// ToolConfig is a provisioning recipe for one tool kind.
type ToolConfig struct {
	DownloadURL   string     `yaml:"download_url,omitempty"`
	SHA256        string     `yaml:"sha256,omitempty"`
	Dest          string     `yaml:"dest,omitempty"`
	InstallArgs   [][]string `yaml:"install_args,omitempty"`
	Sentinel      string     `yaml:"sentinel,omitempty"`
	FallbackRoots []string   `yaml:"fallback_roots,omitempty"`
}

// DependencyConfig declares a remote source subtree to vendor into the project.
type DependencyConfig struct {
	Name string `yaml:"name"`
	Repo string `yaml:"repo"`
	Path string `yaml:"path"`
	Dest string `yaml:"dest"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version: 1,
		Build: BuildConfig{
			Mode:     "Release",
			BuildDir: "build",
		},
		Provisioning: ProvisioningConfig{
			InstallTimeout: "15m",
			PollInterval:   "5s",
			PollAttempts:   360,
		},
		Tools: defaultTools(),
	}
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults ensures nested fields fall back to sensible defaults when the
// YAML omits them.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if strings.TrimSpace(c.Build.Mode) == "" {
		c.Build.Mode = defaults.Build.Mode
	}
	if strings.TrimSpace(c.Build.BuildDir) == "" {
		c.Build.BuildDir = defaults.Build.BuildDir
	}
	if c.Provisioning.InstallTimeout == "" {
		c.Provisioning.InstallTimeout = defaults.Provisioning.InstallTimeout
	}
	if c.Provisioning.PollInterval == "" {
		c.Provisioning.PollInterval = defaults.Provisioning.PollInterval
	}
	if c.Provisioning.PollAttempts <= 0 {
		c.Provisioning.PollAttempts = defaults.Provisioning.PollAttempts
	}
	if c.Tools == nil {
		c.Tools = map[string]ToolConfig{}
	}
	for name, recipe := range defaults.Tools {
		current, ok := c.Tools[name]
		if !ok {
			c.Tools[name] = recipe
			continue
		}
		if current.DownloadURL == "" {
			current.DownloadURL = recipe.DownloadURL
			current.SHA256 = recipe.SHA256
		}
		if current.Dest == "" {
			current.Dest = recipe.Dest
		}
		if len(current.InstallArgs) == 0 {
			current.InstallArgs = recipe.InstallArgs
		}
		if current.Sentinel == "" {
			current.Sentinel = recipe.Sentinel
		}
		if len(current.FallbackRoots) == 0 {
			current.FallbackRoots = recipe.FallbackRoots
		}
		c.Tools[name] = current
	}
}

// InstallTimeout returns the per-attempt bound for silent installers.
func (c Config) InstallTimeout() time.Duration {
	return parseDuration(c.Provisioning.InstallTimeout, 15*time.Minute)
}

// PollInterval returns the sentinel polling interval.
func (c Config) PollInterval() time.Duration {
	return parseDuration(c.Provisioning.PollInterval, 5*time.Second)
}

// Tool returns the provisioning recipe for a tool key.
func (c Config) Tool(name string) (ToolConfig, bool) {
	recipe, ok := c.Tools[name]
	return recipe, ok
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf, nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
