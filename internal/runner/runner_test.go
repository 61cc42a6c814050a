package runner

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestLineWriterSplits(t *testing.T) {
	var got []string
	w := NewLineWriter(func(s string) { got = append(got, s) })

	_, _ = w.Write([]byte("[ 10%] Building a\n[ 2"))
	_, _ = w.Write([]byte("0%] Building b\r\n\ntrailing"))
	w.Flush()

	want := []string{"[ 10%] Building a", "[ 20%] Building b", "trailing"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCmdRunnerStreamsAndCaptures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	var lines []string
	var started bool
	res, err := CmdRunner{}.Run(context.Background(), "sh", []string{"-c", "echo one; echo two; echo err 1>&2"}, RunOptions{
		OnLine:  func(s string) { lines = append(lines, s) },
		OnStart: func(p *os.Process) { started = p != nil },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !started {
		t.Fatalf("expected OnStart to be called")
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Fatalf("unexpected lines %q", lines)
	}
	if strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
}

func TestCmdRunnerExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	res, err := CmdRunner{}.Run(context.Background(), "sh", []string{"-c", "exit 3"}, RunOptions{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestCmdRunnerTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	start := time.Now()
	_, err := CmdRunner{}.Run(context.Background(), "sh", []string{"-c", "sleep 5"}, RunOptions{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout not enforced")
	}
}
