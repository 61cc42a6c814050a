package tools

import "time"

// Kind identifies a managed tool.
type Kind string

const (
	KindGit        Kind = "git"
	KindCMake      Kind = "cmake"
	KindCompiler   Kind = "compiler"
	KindDownloader Kind = "downloader"
	KindVcpkg      Kind = "vcpkg"
	KindNinja      Kind = "ninja"
)

// Source records which locator produced a resolved path.
type Source string

const (
	SourceUnknown     Source = ""
	SourcePath        Source = "path"
	SourceEnv         Source = "env"
	SourceConvention  Source = "convention"
	SourceCommon      Source = "common path"
	SourceQuery       Source = "installer-query"
	SourceProvisioned Source = "provisioned"
)

// rank orders locator sources; lower wins.
func (s Source) rank() int {
	switch s {
	case SourcePath:
		return 0
	case SourceEnv:
		return 1
	case SourceConvention:
		return 2
	case SourceCommon:
		return 3
	case SourceQuery:
		return 4
	default:
		return 5
	}
}

// Resolved is a tool location that passed an existence check.
type Resolved struct {
	Kind         Kind      `json:"kind"`
	Path         string    `json:"path"`
	Source       Source    `json:"source"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Status captures the resolved state for a managed tool.
type Status struct {
	Tool         Kind     `json:"tool"`
	Name         string   `json:"name"`
	Path         string   `json:"path,omitempty"`
	Source       Source   `json:"source,omitempty"`
	Version      string   `json:"version,omitempty"`
	DiscoveredAt string   `json:"discovered_at,omitempty"`
	Found        bool     `json:"found"`
	Error        string   `json:"error,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}
