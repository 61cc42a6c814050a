package task

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
)

// Reporter is the subset of Control that engines depend on.
type Reporter interface {
	Progress(done, total int64)
	Status(message string)
	// Track registers a spawned process for forced stop; the returned func
	// unregisters it.
	Track(p *os.Process) func()
}

// Discard is a Reporter that drops every event.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Progress(int64, int64)    {}
func (discard) Status(string)            {}
func (discard) Track(*os.Process) func() { return func() {} }

// Control is handed to a work function to report progress and observe
// cancellation.
type Control struct {
	ctx       context.Context
	emit      func(fn func()) bool
	cancelled atomic.Bool

	onProgress func(done, total int64)
	onStatus   func(message string)

	mu sync.Mutex
	// last determinate report
	lastDone  int64
	lastTotal int64
	reported  bool
	procs     map[*os.Process]struct{}
}

func newControl(ctx context.Context, emit func(fn func()) bool) *Control {
	return &Control{ctx: ctx, emit: emit, procs: map[*os.Process]struct{}{}}
}

// Context returns the task context; it is cancelled by Cancel and Stop.
func (c *Control) Context() context.Context { return c.ctx }

// Cancelled reports whether cancellation was requested.
func (c *Control) Cancelled() bool { return c.cancelled.Load() }

func (c *Control) requestCancel() { c.cancelled.Store(true) }

// Progress reports done units of total. A total of zero means the amount of
// work is unknown and is always delivered. A determinate report is dropped
// when its done value or its done/total ratio is below the last determinate
// report, whatever the total, so one task never shows progress going back.
func (c *Control) Progress(done, total int64) {
	if done < 0 {
		done = 0
	}
	if total < 0 {
		total = 0
	}
	if total > 0 && done > total {
		done = total
	}

	c.mu.Lock()
	if total > 0 {
		if c.reported && (done < c.lastDone || ratio(done, total) < ratio(c.lastDone, c.lastTotal)) {
			c.mu.Unlock()
			return
		}
		c.reported = true
		c.lastDone, c.lastTotal = done, total
	}
	c.mu.Unlock()

	if c.onProgress == nil {
		return
	}
	fn := c.onProgress
	c.emit(func() { fn(done, total) })
}

func ratio(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// Status reports a human-readable message.
func (c *Control) Status(message string) {
	if c.onStatus == nil {
		return
	}
	fn := c.onStatus
	c.emit(func() { fn(message) })
}

// Track registers p so Stop can kill it.
func (c *Control) Track(p *os.Process) func() {
	if p == nil {
		return func() {}
	}
	c.mu.Lock()
	c.procs[p] = struct{}{}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.procs, p)
		c.mu.Unlock()
	}
}

func (c *Control) killTracked() {
	c.mu.Lock()
	procs := make([]*os.Process, 0, len(c.procs))
	for p := range c.procs {
		procs = append(procs, p)
	}
	c.procs = map[*os.Process]struct{}{}
	c.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
}
