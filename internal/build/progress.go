package build

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentLine = regexp.MustCompile(`^\[\s*(\d{1,3})%\]:?\s*(.*)$`)
	ninjaLine   = regexp.MustCompile(`^\[(\d+)/(\d+)\]\s*(.*)$`)
)

// ninjaRegenerate prefixes the steps ninja runs to regenerate build.ninja
// before the real build. They carry their own small [n/m] counter.
var ninjaRegenerate = []string{"Re-running CMake", "Re-checking globbed directories"}

// ProgressEvent is a progress marker parsed from build output.
type ProgressEvent struct {
	Percent     int
	Description string
}

// ParseProgress recognises "[NN%] text" markers emitted by Makefile
// generators. Ninja "[n/m] text" markers are scaled to a percentage so both
// share one sequence. Ninja regeneration steps are not progress: they would
// report 100% ahead of the build itself.
func ParseProgress(line string) (ProgressEvent, bool) {
	line = strings.TrimSpace(line)
	if m := percentLine.FindStringSubmatch(line); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			return ProgressEvent{}, false
		}
		return ProgressEvent{Percent: pct, Description: strings.TrimSpace(m[2])}, true
	}
	if m := ninjaLine.FindStringSubmatch(line); m != nil {
		done, err1 := strconv.ParseInt(m[1], 10, 64)
		total, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil || total <= 0 || done > total {
			return ProgressEvent{}, false
		}
		desc := strings.TrimSpace(m[3])
		for _, prefix := range ninjaRegenerate {
			if strings.HasPrefix(desc, prefix) {
				return ProgressEvent{}, false
			}
		}
		return ProgressEvent{Percent: int(done * 100 / total), Description: desc}, true
	}
	return ProgressEvent{}, false
}
