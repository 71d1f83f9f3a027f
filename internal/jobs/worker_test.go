package jobs

import (
	"context"
	"testing"
	"time"
)

func TestWorker_PauseBeforeTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := mustCreate(t, h.repo, `{"message":"hi"}`, "1", "2", "3", "4", "5")
	if _, err := h.ctl.Pause(ctx, 1, j.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.worker.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got := mustGet(t, h.repo, j.ID)
	if got.Status != StatusPaused {
		t.Fatalf("status = %s", got.Status)
	}
	if n := countItems(t, h.repo, j.ID, ItemPending); n != 5 {
		t.Fatalf("pending = %d, want 5", n)
	}
	if len(h.sender.Attempts()) != 0 {
		t.Fatalf("attempts = %v", h.sender.Attempts())
	}
}

func TestWorker_ResumeOnlySendsRemaining(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := mustCreate(t, h.repo, `{"message":"hi"}`, "1", "2", "3", "4", "5")
	markSent(t, h.repo, j.ID, "1")
	markSent(t, h.repo, j.ID, "2")
	if err := h.repo.UpdateProgress(ctx, j.ID, 2, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctl.Pause(ctx, 1, j.ID); err != nil {
		t.Fatal(err)
	}

	resumed, err := h.ctl.Resume(ctx, 1, j.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != StatusQueued {
		t.Fatalf("status after resume = %s", resumed.Status)
	}
	if h.waker.Count() == 0 {
		t.Fatalf("resume should wake the poller")
	}

	if err := h.worker.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got := mustGet(t, h.repo, j.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	attempts := h.sender.Attempts()
	if len(attempts) != 3 {
		t.Fatalf("attempts = %v, want the 3 pending recipients", attempts)
	}
	for _, r := range attempts {
		if r == "1" || r == "2" {
			t.Fatalf("already-sent recipient %s was sent again", r)
		}
	}
	if got.Progress.Sent != 5 {
		t.Fatalf("progress = %+v", got.Progress)
	}
}

func TestWorker_SkipsTickWhileLeaseHeld(t *testing.T) {
	h := newHarness(t)
	j := mustCreate(t, h.repo, `{"message":"hi"}`, "1")

	if !h.worker.lease.TryAcquire() {
		t.Fatal("lease should be free")
	}
	if err := h.worker.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := mustGet(t, h.repo, j.ID); got.Status != StatusQueued {
		t.Fatalf("job claimed while lease held: %s", got.Status)
	}

	h.worker.lease.Release()
	if err := h.worker.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := mustGet(t, h.repo, j.ID); got.Status != StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if h.worker.lease.Held() {
		t.Fatalf("lease not released after tick")
	}
}

func TestWorker_OneJobPerTickInFIFOOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := mustCreate(t, h.repo, `{"message":"a"}`, "1")
	b := mustCreate(t, h.repo, `{"message":"b"}`, "2")

	if err := h.worker.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if mustGet(t, h.repo, a.ID).Status != StatusCompleted || mustGet(t, h.repo, b.ID).Status != StatusQueued {
		t.Fatalf("first tick must only run the oldest job")
	}
	if err := h.worker.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if mustGet(t, h.repo, b.ID).Status != StatusCompleted {
		t.Fatalf("second tick must run b")
	}
}

func TestWorker_InterruptedJobIsRequeued(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h.disp.Sleep = func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	j := mustCreate(t, h.repo, `{"message":"hi"}`, "1", "2", "3")
	if err := h.worker.Tick(ctx); err == nil {
		t.Fatalf("tick should report the interruption")
	}

	got := mustGet(t, h.repo, j.ID)
	if got.Status != StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
	if got.Progress.Sent != 1 || countItems(t, h.repo, j.ID, ItemPending) != 2 {
		t.Fatalf("progress = %+v", got.Progress)
	}
}

func TestWorker_SetInterval(t *testing.T) {
	h := newHarness(t)
	h.worker.SetInterval(2 * time.Second)
	if got := h.worker.Interval(); got != 2*time.Second {
		t.Fatalf("interval = %v", got)
	}
	h.worker.SetInterval(0)
	if got := h.worker.Interval(); got != DefaultPollInterval {
		t.Fatalf("interval = %v, want default", got)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	j := mustCreate(t, h.repo, `{"message":"hi"}`, "1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()
	h.worker.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := h.repo.JobStatus(context.Background(), j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if st == StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not dispatched after wake; status %s", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
