// Package task runs long operations off the caller's goroutine.
//
// A task reports progress and status through a Control and finishes with
// exactly one terminal callback: OnSuccess, OnError or OnCancelled. Callbacks
// are delivered in order on a single dispatcher goroutine, or through
// Options.Post when the caller owns an event loop.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/logx"
)

// Work is the unit of computation run by a task.
type Work[T any] func(ctx context.Context, ctl *Control) (T, error)

// Callbacks receive task events. Any field may be nil.
type Callbacks[T any] struct {
	OnProgress  func(done, total int64)
	OnStatus    func(message string)
	OnSuccess   func(result T)
	OnError     func(err error)
	OnCancelled func()
}

// Options configure a task.
type Options struct {
	// ID identifies the task in logs; a random UUID is used when empty.
	ID   string
	Name string
	// Post marshals a callback onto the caller's context. When nil a private
	// dispatcher goroutine runs callbacks in order.
	Post   func(fn func())
	Logger *zap.Logger
}

// Outcome is the terminal state of a task.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

// Result is the terminal value of a task. Value holds whatever the work
// function returned, including partial results alongside an error.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// Handle controls a running task.
type Handle[T any] struct {
	id     string
	name   string
	cancel context.CancelFunc
	ctl    *Control
	cb     Callbacks[T]
	post   func(fn func())
	disp   *dispatcher
	logger *zap.Logger

	mu        sync.Mutex
	finished  bool
	delivered atomic.Bool
	result    Result[T]
	done      chan struct{}
}

// Start runs work on a new goroutine and returns immediately.
func Start[T any](ctx context.Context, work Work[T], cb Callbacks[T], opts Options) *Handle[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(ctx)

	h := &Handle[T]{
		id:     id,
		name:   opts.Name,
		cancel: cancel,
		cb:     cb,
		post:   opts.Post,
		logger: logx.OrNop(opts.Logger).With(zap.String("task_id", id), zap.String("task", opts.Name)),
		done:   make(chan struct{}),
	}
	if h.post == nil {
		h.disp = newDispatcher()
	}
	h.ctl = newControl(runCtx, h.emit)
	if cb.OnProgress != nil {
		h.ctl.onProgress = cb.OnProgress
	}
	if cb.OnStatus != nil {
		h.ctl.onStatus = cb.OnStatus
	}

	h.logger.Debug("task started")
	go h.run(runCtx, work)
	return h
}

func (h *Handle[T]) run(ctx context.Context, work Work[T]) {
	var (
		value T
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		value, err = work(ctx, h.ctl)
	}()

	switch {
	case err == nil:
		h.finish(Result[T]{Outcome: OutcomeSuccess, Value: value})
	case h.ctl.Cancelled() || errors.Is(err, context.Canceled) || errs.KindOf(err) == errs.KindCancelled:
		h.finish(Result[T]{Outcome: OutcomeCancelled, Value: value, Err: err})
	default:
		h.finish(Result[T]{Outcome: OutcomeError, Value: value, Err: err})
	}
}

// ID returns the task identifier.
func (h *Handle[T]) ID() string { return h.id }

// Cancel requests cooperative cancellation. The work function observes it
// through its context or Control.Cancelled and decides how to finish.
func (h *Handle[T]) Cancel() {
	h.ctl.requestCancel()
	h.cancel()
}

// Stop forcibly ends the task: tracked processes are killed and OnCancelled
// is delivered immediately. Whatever the work function later returns is
// discarded.
func (h *Handle[T]) Stop() {
	h.ctl.requestCancel()
	h.cancel()
	h.ctl.killTracked()
	h.finish(Result[T]{Outcome: OutcomeCancelled, Err: errs.ErrCancelled})
}

// Done is closed once the terminal callback has been handed to the caller.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the task reaches a terminal state. It must not be called
// from inside a callback delivered by the private dispatcher.
func (h *Handle[T]) Wait() Result[T] {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// emit queues a non-terminal event. Events that reach the caller after the
// terminal callback are dropped.
func (h *Handle[T]) emit(fn func()) bool {
	h.mu.Lock()
	finished := h.finished
	h.mu.Unlock()
	if finished {
		return false
	}
	h.dispatch(func() {
		if h.delivered.Load() {
			return
		}
		fn()
	})
	return true
}

func (h *Handle[T]) dispatch(fn func()) {
	if h.post != nil {
		h.post(fn)
		return
	}
	h.disp.post(fn)
}

func (h *Handle[T]) finish(res Result[T]) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.result = res
	h.mu.Unlock()

	terminal := h.terminal(res)
	h.dispatch(func() {
		h.delivered.Store(true)
		terminal()
	})

	h.logger.Debug("task finished", zap.Stringer("outcome", res.Outcome), zap.Error(res.Err))

	if h.disp == nil {
		close(h.done)
		return
	}
	go func() {
		h.disp.close()
		<-h.disp.done
		close(h.done)
	}()
}

func (h *Handle[T]) terminal(res Result[T]) func() {
	cb := h.cb
	switch res.Outcome {
	case OutcomeSuccess:
		return func() {
			if cb.OnSuccess != nil {
				cb.OnSuccess(res.Value)
			}
		}
	case OutcomeCancelled:
		return func() {
			if cb.OnCancelled != nil {
				cb.OnCancelled()
			}
		}
	default:
		return func() {
			if cb.OnError != nil {
				cb.OnError(res.Err)
			}
		}
	}
}
