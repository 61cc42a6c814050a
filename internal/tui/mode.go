package tui

import (
	"io"
	"os"
	"runtime"
	"strings"
)

// Mode selects how job progress is drawn.
type Mode int

const (
	// ModeTUI draws a live table with one row per job.
	ModeTUI Mode = iota
	// ModePlain prints status lines as jobs report them.
	ModePlain
	// ModeJSON prints only the final result document.
	ModeJSON
)

// IsTerminal reports whether w is an interactive character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// DetectMode picks the progress rendering for out. --json wins over
// everything; CI runs, --no-progress, redirected output and dumb terminals
// get plain lines.
func DetectMode(out io.Writer, noProgress, jsonOutput bool) Mode {
	return pickMode(IsTerminal(out), noProgress, jsonOutput, os.Getenv)
}

func pickMode(tty, noProgress, jsonOutput bool, getenv func(string) string) Mode {
	switch {
	case jsonOutput:
		return ModeJSON
	case noProgress, !tty, getenv("CI") != "":
		return ModePlain
	case runtime.GOOS != "windows" && !capableTerm(getenv("TERM")):
		return ModePlain
	}
	return ModeTUI
}

// capableTerm rejects unset and "dumb" TERM values. Windows consoles leave
// TERM unset and are checked by the caller.
func capableTerm(term string) bool {
	return term != "" && !strings.EqualFold(term, "dumb")
}
