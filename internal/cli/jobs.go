package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cppdev/internal/task"
	"cppdev/internal/tui"
)

// jobSpec is one background job shown as a row.
type jobSpec[T any] struct {
	Key   string
	Label string
	Work  task.Work[T]
	// Fields adds row fields for a successful result.
	Fields func(T) map[string]string
}

// runJobs starts every spec as a task and blocks until all finish. Progress is
// rendered according to the output mode; results are returned in spec order.
// In the progress view the first ctrl+c cancels the jobs and the second stops
// them outright.
func runJobs[T any](cmd *cobra.Command, s *session, title string, specs []jobSpec[T]) []task.Result[T] {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	group := &jobGroup[T]{}
	var results []task.Result[T]
	start := func(post func(func()), cbFor func(jobSpec[T]) task.Callbacks[T]) {
		results = group.run(ctx, specs, post, cbFor, s.Logger)
	}

	switch tui.DetectMode(cmd.OutOrStdout(), noProgress, outputJSON) {
	case tui.ModeTUI:
		model := tui.NewProgressModel(title, tui.JobColumns)
		for _, spec := range specs {
			model.AddRow(spec.Key, []string{spec.Label, "pending"})
		}
		model.OnInterrupt(cancel)
		// Stop posts terminal callbacks back onto the event loop.
		model.OnStop(func() { go group.stop() })
		err := tui.RunWithWork(cmd.OutOrStdout(), model, func(post func(func()), send func(tea.Msg)) {
			start(post, func(spec jobSpec[T]) task.Callbacks[T] {
				cb := tui.RowCallbacks(send, spec.Key, spec.Fields)
				onStatus := cb.OnStatus
				cb.OnStatus = func(message string) {
					send(tui.RowUpdateMsg{Key: spec.Key, Fields: map[string]string{"STATUS": "running"}})
					onStatus(message)
				}
				return cb
			})
		})
		if err != nil {
			s.Logger.Warn("progress view failed", zap.Error(err))
		}
	case tui.ModePlain:
		out := cmd.ErrOrStderr()
		if len(specs) == 1 && !noProgress && tui.IsTerminal(out) {
			sw := tui.NewStatusWriter(out)
			start(nil, func(jobSpec[T]) task.Callbacks[T] {
				return task.Callbacks[T]{OnProgress: sw.Progress, OnStatus: sw.Update}
			})
			sw.Stop()
		} else {
			lines := &lineLog{w: out}
			start(nil, func(spec jobSpec[T]) task.Callbacks[T] {
				return task.Callbacks[T]{OnStatus: func(message string) { lines.printf("[%s] %s\n", spec.Key, message) }}
			})
		}
	default:
		start(nil, func(jobSpec[T]) task.Callbacks[T] { return task.Callbacks[T]{} })
	}
	return results
}

// jobGroup tracks the handles of one runJobs call so a stop reaches all of
// them, including jobs started after the stop was requested.
type jobGroup[T any] struct {
	mu      sync.Mutex
	handles []*task.Handle[T]
	stopped bool
}

// run starts every spec and waits for each handle to finish.
func (g *jobGroup[T]) run(ctx context.Context, specs []jobSpec[T], post func(func()), cbFor func(jobSpec[T]) task.Callbacks[T], logger *zap.Logger) []task.Result[T] {
	for _, spec := range specs {
		h := task.Start(ctx, spec.Work, cbFor(spec), task.Options{
			Name:   spec.Key,
			Post:   post,
			Logger: logger,
		})
		g.mu.Lock()
		g.handles = append(g.handles, h)
		stopped := g.stopped
		g.mu.Unlock()
		if stopped {
			h.Stop()
		}
	}

	g.mu.Lock()
	handles := append([]*task.Handle[T](nil), g.handles...)
	g.mu.Unlock()

	results := make([]task.Result[T], len(handles))
	for i, h := range handles {
		results[i] = h.Wait()
	}
	return results
}

// stop ends every started job and marks the group so later starts are
// stopped too.
func (g *jobGroup[T]) stop() {
	g.mu.Lock()
	g.stopped = true
	handles := append([]*task.Handle[T](nil), g.handles...)
	g.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

// lineLog serialises status lines from concurrent jobs.
type lineLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineLog) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
