package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"cppdev/internal/errs"
	"cppdev/internal/task"
)

// Mailbox collects messages produced by callbacks running inside Update.
// It is only touched from the event loop and needs no locking.
type Mailbox struct {
	msgs []tea.Msg
}

// Send queues msg for the current Update.
func (b *Mailbox) Send(msg tea.Msg) {
	b.msgs = append(b.msgs, msg)
}

func (b *Mailbox) take() []tea.Msg {
	msgs := b.msgs
	b.msgs = nil
	return msgs
}

// RowCallbacks maps task callbacks onto a table row. Status messages land in
// the DETAIL column and terminal callbacks set STATUS.
// onSuccess may add further fields for the successful result.
func RowCallbacks[T any](send func(tea.Msg), key string, onSuccess func(T) map[string]string) task.Callbacks[T] {
	update := func(fields map[string]string) {
		send(RowUpdateMsg{Key: key, Fields: fields})
	}
	return task.Callbacks[T]{
		OnProgress: func(done, total int64) {
			send(ProgressMsg{Key: key, Done: done, Total: total})
		},
		OnStatus: func(message string) {
			update(map[string]string{"DETAIL": message})
		},
		OnSuccess: func(result T) {
			fields := map[string]string{"STATUS": "succeeded"}
			if onSuccess != nil {
				for k, v := range onSuccess(result) {
					fields[k] = v
				}
			}
			update(fields)
		},
		OnError: func(err error) {
			update(map[string]string{"STATUS": statusForError(err), "DETAIL": err.Error()})
		},
		OnCancelled: func() {
			update(map[string]string{"STATUS": "cancelled", "DETAIL": "cancelled by user"})
		},
	}
}

func statusForError(err error) string {
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindToolchainUnavailable:
		return "missing"
	case errs.KindVerificationTimeout:
		return "not_detected"
	default:
		return "failed"
	}
}
