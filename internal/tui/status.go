package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StatusWriter prints a spinning status line to a writer. It runs in
// the background and updates the current phase text in-place. Plain output
// mode uses it for single jobs when no table is shown.
type StatusWriter struct {
	w          io.Writer
	mu         sync.Mutex
	message    string
	done       int64
	total      int64
	phaseStart time.Time
	stop       chan struct{}
	stopped    bool
}

// NewStatusWriter starts a background spinner that renders the current
// status message to w every 100ms.
func NewStatusWriter(w io.Writer) *StatusWriter {
	sw := &StatusWriter{
		w:          w,
		phaseStart: time.Now(),
		stop:       make(chan struct{}),
	}
	go sw.loop()
	return sw
}

// Update changes the status message shown next to the spinner and resets
// the phase timer so elapsed time restarts from zero.
func (sw *StatusWriter) Update(msg string) {
	sw.mu.Lock()
	sw.message = msg
	sw.phaseStart = time.Now()
	sw.mu.Unlock()
}

// Progress records done of total for display. Total zero hides the
// percentage.
func (sw *StatusWriter) Progress(done, total int64) {
	sw.mu.Lock()
	sw.done, sw.total = done, total
	sw.mu.Unlock()
}

// Stop clears the status line and stops the spinner.
func (sw *StatusWriter) Stop() {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	sw.mu.Unlock()
	close(sw.stop)
	fmt.Fprintf(sw.w, "\r\033[K")
}

func (sw *StatusWriter) loop() {
	tick := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.mu.Lock()
			line := sw.lineLocked(spinnerFrames[tick%len(spinnerFrames)])
			sw.mu.Unlock()
			tick++
			fmt.Fprintf(sw.w, "\r\033[K%s", line)
		}
	}
}

func (sw *StatusWriter) lineLocked(frame string) string {
	elapsed := formatElapsed(time.Since(sw.phaseStart))
	if sw.total > 0 {
		return fmt.Sprintf("%s %s %d%% (%s)", frame, sw.message, sw.done*100/sw.total, elapsed)
	}
	return fmt.Sprintf("%s %s (%s)", frame, sw.message, elapsed)
}

// formatElapsed formats a duration for display in the status line.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
