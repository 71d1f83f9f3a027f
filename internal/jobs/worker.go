package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const DefaultPollInterval = 5 * time.Second

// Lease is the single-worker guard: while held, no other tick may start a job.
type Lease struct {
	held atomic.Bool
}

func (l *Lease) TryAcquire() bool { return l.held.CompareAndSwap(false, true) }
func (l *Lease) Release()         { l.held.Store(false) }
func (l *Lease) Held() bool       { return l.held.Load() }

// Worker is the queue poller. It claims at most one job at a time and runs
// its dispatcher inline.
type Worker struct {
	ID         string
	Repo       *Repo
	Dispatcher *Dispatcher
	Log        zerolog.Logger

	lease    Lease
	interval atomic.Int64
	wake     chan struct{}
	reset    chan struct{}
}

func NewWorker(id string, repo *Repo, d *Dispatcher, interval time.Duration, log zerolog.Logger) *Worker {
	w := &Worker{
		ID:         id,
		Repo:       repo,
		Dispatcher: d,
		Log:        log.With().Str("worker", id).Logger(),
		wake:       make(chan struct{}, 1),
		reset:      make(chan struct{}, 1),
	}
	w.SetInterval(interval)
	return w
}

func (w *Worker) Interval() time.Duration { return time.Duration(w.interval.Load()) }

func (w *Worker) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	if time.Duration(w.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case w.reset <- struct{}{}:
	default:
	}
}

// Wake asks for a tick now instead of at the next interval. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	w.Log.Info().Dur("interval", w.Interval()).Msg("worker started")
	defer w.Log.Info().Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reset:
			ticker.Reset(w.Interval())
			continue
		case <-ticker.C:
		case <-w.wake:
		}
		if err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.Log.Error().Err(err).Msg("worker tick failed")
		}
	}
}

// Tick claims the oldest queued job and dispatches it. It is a no-op when a
// previous tick is still running or when nothing is queued.
func (w *Worker) Tick(ctx context.Context) error {
	if !w.lease.TryAcquire() {
		w.Log.Debug().Msg("previous job still running; skipping tick")
		return nil
	}
	defer w.lease.Release()

	job, err := w.Repo.FindNextQueued(ctx)
	if err != nil {
		return fmt.Errorf("find next queued: %w", err)
	}
	if job == nil {
		return nil
	}

	claimed, err := w.Repo.TransitionStatus(ctx, job.ID, []Status{StatusQueued}, StatusProcessing, nil)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		// paused or cancelled between read and claim
		return nil
	}
	job.Status = StatusProcessing

	if err := w.dispatch(ctx, job); err != nil {
		w.requeue(ctx, job.ID, err)
		return err
	}

	// more work may be waiting; don't sit out a whole interval
	w.Wake()
	return nil
}

func (w *Worker) dispatch(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error().
				Str("job", job.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic in dispatcher")
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return w.Dispatcher.Run(ctx, job)
}

// requeue hands an interrupted job back to the queue. Its pending set is
// intact, so the next run continues where this one stopped.
func (w *Worker) requeue(ctx context.Context, jobID string, cause error) {
	ok, err := w.Repo.TransitionStatus(context.WithoutCancel(ctx), jobID, []Status{StatusProcessing}, StatusQueued, nil)
	if err != nil {
		w.Log.Error().Err(err).Str("job", jobID).Msg("requeue interrupted job")
		return
	}
	if ok {
		w.Log.Warn().Err(cause).Str("job", jobID).Msg("job interrupted; requeued")
	}
}
