package probe

import (
	"os"
	"strconv"
	"strings"
)

// ParseVersion parses a strictly dot-separated integer version such as
// "14.38.33130". Names with any non-numeric component are rejected.
func ParseVersion(name string) ([]int, bool) {
	if name == "" {
		return nil, false
	}
	fields := strings.Split(name, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			return nil, false
		}
		for _, r := range f {
			if r < '0' || r > '9' {
				return nil, false
			}
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		parts = append(parts, v)
	}
	return parts, true
}

// CompareVersions compares two version tuples element by element. A tuple that
// is a strict prefix of the other sorts first. Returns -1, 0 or 1.
func CompareVersions(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// HighestVersion picks the highest numeric version among names. Non-numeric
// names are skipped.
func HighestVersion(names []string) (string, bool) {
	var (
		best     string
		bestVers []int
	)
	for _, name := range names {
		v, ok := ParseVersion(name)
		if !ok {
			continue
		}
		if bestVers == nil || CompareVersions(v, bestVers) > 0 {
			best, bestVers = name, v
		}
	}
	return best, bestVers != nil
}

// HighestVersionDir returns the name of the highest-versioned subdirectory of parent.
func HighestVersionDir(parent string) (string, bool) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return HighestVersion(names)
}
