package tui

// RowUpdateMsg updates a single row's fields by column name.
type RowUpdateMsg struct {
	Key    string
	Fields map[string]string
}

// ProgressMsg sets a row's progress. Total zero renders as a spinner.
type ProgressMsg struct {
	Key   string
	Done  int64
	Total int64
}

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the TUI should quit.
type ErrorMsg struct {
	Err error
}

// postMsg carries a callback to run on the event loop.
type postMsg func()
