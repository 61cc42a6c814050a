package tui

import (
	"bytes"
	"runtime"
	"testing"
)

func TestPickMode(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(key string) string { return vars[key] }
	}
	xterm := env(map[string]string{"TERM": "xterm-256color"})

	tests := []struct {
		name       string
		tty        bool
		noProgress bool
		json       bool
		getenv     func(string) string
		want       Mode
		unixOnly   bool
	}{
		{"json beats terminal", true, false, true, xterm, ModeJSON, false},
		{"json beats no-progress", false, true, true, xterm, ModeJSON, false},
		{"interactive terminal", true, false, false, xterm, ModeTUI, false},
		{"no-progress flag", true, true, false, xterm, ModePlain, false},
		{"redirected output", false, false, false, xterm, ModePlain, false},
		{"ci", true, false, false, env(map[string]string{"TERM": "xterm", "CI": "true"}), ModePlain, false},
		{"dumb terminal", true, false, false, env(map[string]string{"TERM": "dumb"}), ModePlain, true},
		{"unset term", true, false, false, env(nil), ModePlain, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.unixOnly && runtime.GOOS == "windows" {
				t.Skip("TERM is not consulted on windows")
			}
			if got := pickMode(tt.tty, tt.noProgress, tt.json, tt.getenv); got != tt.want {
				t.Errorf("pickMode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBufferIsNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	if IsTerminal(&buf) {
		t.Fatal("buffer reported as terminal")
	}
	if got := DetectMode(&buf, false, false); got != ModePlain {
		t.Fatalf("DetectMode(buffer) = %d, want plain", got)
	}
}
