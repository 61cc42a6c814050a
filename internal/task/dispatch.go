package task

import "sync"

// dispatcher runs queued callbacks in order on one goroutine. The queue is
// unbounded so producers never block on a slow consumer.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go d.loop()
	return d
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
}

// close stops accepting callbacks; queued ones still run.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		items := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range items {
			fn()
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}
