package tui

import (
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RunWithWork creates a bubbletea program, launches workFn in a goroutine,
// and blocks until both the program and workFn have returned. workFn receives
// post, which runs a callback on the event loop, and send, which queues a
// message from inside such a callback. Pass post as task.Options.Post.
//
// If the program exits while work is still running, the model's stop
// callback is invoked before waiting.
func RunWithWork(out io.Writer, model ProgressModel, workFn func(post func(func()), send func(tea.Msg))) error {
	p := tea.NewProgram(model, tea.WithOutput(out))
	box := model.Mailbox()
	workDone := make(chan struct{})

	go func() {
		defer close(workDone)
		// Let bubbletea start its event loop and render the initial frame.
		time.Sleep(50 * time.Millisecond)

		workFn(func(fn func()) {
			p.Send(postMsg(fn))
		}, box.Send)

		p.Send(WorkDoneMsg{})
	}()

	finalModel, err := p.Run()
	select {
	case <-workDone:
	default:
		if model.onStop != nil {
			model.onStop()
		}
		<-workDone
	}
	if err != nil {
		return err
	}
	if m, ok := finalModel.(ProgressModel); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}
