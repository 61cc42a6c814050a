package tools

import (
	"context"
	"strings"
	"time"

	"cppdev/internal/errs"
	"cppdev/internal/runner"
)

const versionTimeout = 5 * time.Second

// Detect resolves every known kind and reports its status. When run is
// non-nil each found tool is asked for its version.
func (r *Resolver) Detect(ctx context.Context, run runner.Runner) []Status {
	if ctx == nil {
		ctx = context.Background()
	}

	var statuses []Status
	for _, kind := range Kinds(r.Defs) {
		def := r.Defs[kind]
		status := Status{Tool: kind, Name: def.Name}

		resolved, err := r.Resolve(ctx, kind)
		if err != nil {
			status.Error = err.Error()
			if errs.KindOf(err) == errs.KindNotFound {
				status.Notes = installHints(kind)
			}
			statuses = append(statuses, status)
			continue
		}

		status.Found = true
		status.Path = resolved.Path
		status.Source = resolved.Source
		if !resolved.DiscoveredAt.IsZero() {
			status.DiscoveredAt = resolved.DiscoveredAt.UTC().Format(time.RFC3339)
		}
		if run != nil && len(def.VersionArgs) > 0 {
			version, verr := readVersion(ctx, run, resolved.Path, def.VersionArgs)
			if verr != nil {
				status.Notes = append(status.Notes, "version check failed: "+verr.Error())
			} else {
				status.Version = version
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func readVersion(ctx context.Context, run runner.Runner, path string, args []string) (string, error) {
	res, err := run.Run(ctx, path, args, runner.RunOptions{Timeout: versionTimeout})
	if err != nil {
		return "", err
	}
	return normalizeVersionLine(firstLine(strings.TrimSpace(string(res.Stdout)))), nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// normalizeVersionLine picks the first field that looks like a version from
// lines such as "cmake version 3.30.5" or "git version 2.47.0.windows.1".
func normalizeVersionLine(line string) string {
	for _, field := range strings.Fields(line) {
		if field != "" && field[0] >= '0' && field[0] <= '9' && strings.Contains(field, ".") {
			return strings.TrimSuffix(field, ",")
		}
	}
	return line
}
