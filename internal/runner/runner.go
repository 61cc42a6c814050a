package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"
)

type RunOptions struct {
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer

	// OnLine receives each stdout line as it is produced (without the trailing newline).
	OnLine func(line string)
	// OnStart is called once the process has been spawned, before waiting on it.
	OnStart func(p *os.Process)
	// Timeout bounds the run; zero means no bound beyond ctx.
	Timeout time.Duration
}

type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

type Runner interface {
	Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error)
}

type CmdRunner struct{}

func (CmdRunner) Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer

	writers := []io.Writer{&stdoutBuf}
	if opts.Stdout != nil {
		writers = append(writers, opts.Stdout)
	}
	var lines *LineWriter
	if opts.OnLine != nil {
		lines = NewLineWriter(opts.OnLine)
		writers = append(writers, lines)
	}
	stderrWriter := io.Writer(&stderrBuf)
	if opts.Stderr != nil {
		stderrWriter = io.MultiWriter(&stderrBuf, opts.Stderr)
	}

	cmd.Stdout = io.MultiWriter(writers...)
	cmd.Stderr = stderrWriter

	if err := cmd.Start(); err != nil {
		return RunResult{ExitCode: -1}, err
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process)
	}

	err := cmd.Wait()
	if lines != nil {
		lines.Flush()
	}
	res := RunResult{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes(), ExitCode: exitCode(cmd, err)}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

var _ Runner = CmdRunner{}

// LineWriter splits written bytes into lines and hands each to fn.
// Carriage returns are treated as line breaks so progress-style output that
// rewrites the current line is still delivered.
type LineWriter struct {
	fn  func(string)
	buf []byte
}

func NewLineWriter(fn func(string)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emit()
			continue
		}
		w.buf = append(w.buf, b)
	}
	return len(p), nil
}

// Flush delivers any trailing partial line.
func (w *LineWriter) Flush() {
	w.emit()
}

func (w *LineWriter) emit() {
	if len(w.buf) == 0 {
		return
	}
	line := string(w.buf)
	w.buf = w.buf[:0]
	w.fn(line)
}
