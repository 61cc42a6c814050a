package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cppdev/internal/errs"
)

type recorder struct {
	mu        sync.Mutex
	progress  [][2]int64
	statuses  []string
	success   int
	failures  []error
	cancelled int
	terminal  chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan struct{})}
}

func (r *recorder) callbacks() Callbacks[string] {
	return Callbacks[string]{
		OnProgress: func(done, total int64) {
			r.mu.Lock()
			r.progress = append(r.progress, [2]int64{done, total})
			r.mu.Unlock()
		},
		OnStatus: func(msg string) {
			r.mu.Lock()
			r.statuses = append(r.statuses, msg)
			r.mu.Unlock()
		},
		OnSuccess: func(string) { r.mark(func() { r.success++ }) },
		OnError:   func(err error) { r.mark(func() { r.failures = append(r.failures, err) }) },
		OnCancelled: func() {
			r.mark(func() { r.cancelled++ })
		},
	}
}

func (r *recorder) mark(fn func()) {
	r.mu.Lock()
	fn()
	r.mu.Unlock()
	r.once.Do(func() { close(r.terminal) })
}

func (r *recorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.success + len(r.failures) + r.cancelled
}

func (r *recorder) await(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal callback delivered")
	}
}

func TestSuccessDeliversEventsInOrder(t *testing.T) {
	rec := newRecorder()
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		ctl.Status("starting")
		for i := int64(1); i <= 3; i++ {
			ctl.Progress(i, 3)
		}
		ctl.Status("done")
		return "ok", nil
	}, rec.callbacks(), Options{Name: "test"})

	res := h.Wait()
	if res.Outcome != OutcomeSuccess || res.Value != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
	rec.await(t)
	if rec.success != 1 || rec.terminals() != 1 {
		t.Fatalf("expected a single success, got %+v", rec)
	}
	if len(rec.progress) != 3 || rec.progress[2] != [2]int64{3, 3} {
		t.Fatalf("unexpected progress %v", rec.progress)
	}
	if len(rec.statuses) != 2 || rec.statuses[0] != "starting" || rec.statuses[1] != "done" {
		t.Fatalf("unexpected statuses %v", rec.statuses)
	}
	if h.ID() == "" {
		t.Fatal("expected generated task id")
	}
}

func TestErrorOutcome(t *testing.T) {
	rec := newRecorder()
	boom := errors.New("boom")
	h := Start(context.Background(), func(context.Context, *Control) (string, error) {
		return "", boom
	}, rec.callbacks(), Options{})

	if res := h.Wait(); res.Outcome != OutcomeError || !errors.Is(res.Err, boom) {
		t.Fatalf("unexpected result %+v", res)
	}
	rec.await(t)
	if len(rec.failures) != 1 || rec.terminals() != 1 {
		t.Fatalf("expected a single error, got %+v", rec)
	}
}

func TestPanicBecomesError(t *testing.T) {
	rec := newRecorder()
	h := Start(context.Background(), func(context.Context, *Control) (string, error) {
		panic("kaboom")
	}, rec.callbacks(), Options{})

	if res := h.Wait(); res.Outcome != OutcomeError || res.Err == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProgressNeverDecreasesForSameTotal(t *testing.T) {
	rec := newRecorder()
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		for _, d := range []int64{1, 5, 3, 5, 7, 2, 10, 12} {
			ctl.Progress(d, 10)
		}
		// Zero total is indeterminate and always delivered.
		ctl.Progress(0, 0)
		ctl.Progress(10, 10)
		return "", nil
	}, rec.callbacks(), Options{})
	h.Wait()
	rec.await(t)

	want := [][2]int64{{1, 10}, {5, 10}, {5, 10}, {7, 10}, {10, 10}, {10, 10}, {0, 0}, {10, 10}}
	if len(rec.progress) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.progress)
	}
	for i := range want {
		if rec.progress[i] != want[i] {
			t.Fatalf("event %d: expected %v, got %v", i, want[i], rec.progress[i])
		}
	}
}

func TestProgressNeverDecreasesAcrossTotals(t *testing.T) {
	rec := newRecorder()
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		ctl.Progress(0, 4096)
		ctl.Progress(3977, 4096)
		ctl.Progress(4096, 4096)
		// Lower done and ratio, then higher done with a lower ratio.
		ctl.Progress(1, 2)
		ctl.Progress(5000, 10000)
		ctl.Progress(0, 0)
		ctl.Progress(8192, 8192)
		return "", nil
	}, rec.callbacks(), Options{})
	h.Wait()
	rec.await(t)

	want := [][2]int64{{0, 4096}, {3977, 4096}, {4096, 4096}, {0, 0}, {8192, 8192}}
	if len(rec.progress) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.progress)
	}
	for i := range want {
		if rec.progress[i] != want[i] {
			t.Fatalf("event %d: expected %v, got %v", i, want[i], rec.progress[i])
		}
	}
}

func TestCancelCooperativeReportsCancelled(t *testing.T) {
	rec := newRecorder()
	started := make(chan struct{})
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, rec.callbacks(), Options{})

	<-started
	h.Cancel()
	if res := h.Wait(); res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	rec.await(t)
	if rec.cancelled != 1 || rec.terminals() != 1 {
		t.Fatalf("expected exactly one cancelled callback, got %+v", rec)
	}
}

func TestCancelIgnoredByWorkStillFinishesOnce(t *testing.T) {
	rec := newRecorder()
	started := make(chan struct{})
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		close(started)
		<-ctx.Done()
		return "finished anyway", nil
	}, rec.callbacks(), Options{})

	<-started
	h.Cancel()
	h.Cancel()
	if res := h.Wait(); res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success when work ignores cancellation, got %+v", res)
	}
	rec.await(t)
	if rec.terminals() != 1 {
		t.Fatalf("expected one terminal callback, got %d", rec.terminals())
	}
}

func TestStopDeliversCancelledAndDropsLateResult(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})
	returned := make(chan struct{})
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		ctl.Progress(1, 10)
		<-release
		ctl.Progress(9, 10)
		ctl.Status("late")
		defer close(returned)
		return "late", nil
	}, rec.callbacks(), Options{})

	h.Stop()
	if res := h.Wait(); res.Outcome != OutcomeCancelled || !errors.Is(res.Err, errs.ErrCancelled) {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	rec.await(t)

	close(release)
	<-returned
	h.Stop()
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.cancelled != 1 || rec.success != 0 || len(rec.failures) != 0 {
		t.Fatalf("expected only a cancelled callback, got %+v", rec)
	}
	for _, st := range rec.statuses {
		if st == "late" {
			t.Fatal("status delivered after terminal callback")
		}
	}
}

func TestPostMarshalsCallbacks(t *testing.T) {
	events := make(chan func(), 64)
	rec := newRecorder()
	h := Start(context.Background(), func(ctx context.Context, ctl *Control) (string, error) {
		ctl.Status("hello")
		return "ok", nil
	}, rec.callbacks(), Options{Post: func(fn func()) { events <- fn }})

	h.Wait()
	if rec.terminals() != 0 {
		t.Fatal("callbacks must not run before the caller drains its queue")
	}
	for len(events) > 0 {
		(<-events)()
	}
	rec.await(t)
	if rec.success != 1 || len(rec.statuses) != 1 {
		t.Fatalf("unexpected events %+v", rec)
	}
}

func TestTrackAndDiscard(t *testing.T) {
	ctl := newControl(context.Background(), func(func()) bool { return true })
	untrack := ctl.Track(nil)
	untrack()
	if len(ctl.procs) != 0 {
		t.Fatal("nil process must not be tracked")
	}
	Discard.Progress(1, 2)
	Discard.Status("x")
	Discard.Track(nil)()
}
