package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bulksend/internal/channel"
	"bulksend/internal/events"
)

// Sender is the delivery capability the dispatcher needs from the channel.
type Sender interface {
	// Available returns nil when the device session can send right now.
	Available(ctx context.Context, deviceID string) error
	Send(ctx context.Context, deviceID, recipient string, msg channel.Message) (messageID string, err error)
}

// StatusReader is consulted before every item so that operator pause/cancel,
// written by another request or process, stops the loop.
type StatusReader interface {
	JobStatus(ctx context.Context, id string) (Status, error)
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Dispatcher struct {
	Repo   *Repo
	Status StatusReader
	Sender Sender
	Delay  *DelayPolicy
	Sleep  SleepFunc
	Events events.Publisher
	Log    zerolog.Logger
}

func NewDispatcher(repo *Repo, sender Sender, delay *DelayPolicy, pub events.Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Repo:   repo,
		Status: repo,
		Sender: sender,
		Delay:  delay,
		Sleep:  sleepCtx,
		Events: pub,
		Log:    log,
	}
}

// Run drives the pending items of one job that the caller already moved to
// processing. Per-item failures are recorded, never returned. A returned
// error means the store or ctx failed and the job is still processing.
func (d *Dispatcher) Run(ctx context.Context, job *Job) error {
	log := d.Log.With().Str("job", job.ID).Str("device", job.DeviceID).Logger()
	start := time.Now()

	p, err := ParsePayload(job.Type, job.Data)
	if err != nil {
		msg := err.Error()
		log.Error().Err(err).Msg("job payload rejected")
		return d.finish(ctx, job, StatusFailed, &msg)
	}

	if err := d.Sender.Available(ctx, job.DeviceID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cerr := &ChannelUnavailableError{DeviceID: job.DeviceID, Err: err}
		msg := cerr.Error()
		log.Warn().Err(err).Msg("channel unavailable; pausing job")
		return d.finish(ctx, job, StatusPaused, &msg)
	}

	items, err := d.Repo.ListPendingItems(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list pending items: %w", err)
	}

	delay := d.delayPolicy().Effective(p.Delay())
	log.Info().
		Int("pending", len(items)).
		Int("total", job.Progress.Total).
		Dur("delay", delay).
		Msg("dispatch started")

	var sent, failed int
	for i := range items {
		it := &items[i]

		st, err := d.Status.JobStatus(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("read job status: %w", err)
		}
		if st != StatusProcessing {
			log.Info().
				Str("status", string(st)).
				Int("sent", sent).
				Int("failed", failed).
				Int("left", len(items)-i).
				Msg("dispatch stopped by status change")
			return nil
		}

		if err := d.sleep(ctx, delay); err != nil {
			return err
		}

		msgID, serr := d.dispatchOne(ctx, job, p, it)
		if serr != nil && errors.Is(serr, channel.ErrUnavailable) {
			// rejected before delivery: keep the item pending for the next run
			cerr := &ChannelUnavailableError{DeviceID: job.DeviceID, Err: serr}
			msg := cerr.Error()
			log.Warn().Err(serr).Str("recipient", it.Recipient).Msg("channel lost mid-run; pausing job")
			return d.finish(ctx, job, StatusPaused, &msg)
		}

		// an outcome is always written, even during shutdown, so an item whose
		// send may have gone out is never left pending
		if err := d.record(context.WithoutCancel(ctx), job.ID, it, msgID, serr); err != nil {
			return err
		}
		if serr != nil {
			failed++
			log.Warn().Err(serr).Str("recipient", it.Recipient).Msg("item failed")
		} else {
			sent++
			log.Debug().Str("recipient", it.Recipient).Str("message_id", msgID).Msg("item sent")
		}
	}

	lvl := zerolog.InfoLevel
	if failed > 0 {
		lvl = zerolog.WarnLevel
	}
	log.WithLevel(lvl).Int("sent", sent).Int("failed", failed).Dur("dur", time.Since(start)).Msg("dispatch finished")

	return d.finish(ctx, job, StatusCompleted, nil)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job *Job, p Payload, it *JobItem) (string, error) {
	msg, err := p.Resolve(job.Type, it.Recipient)
	if err != nil {
		return "", &ItemDispatchError{Recipient: it.Recipient, Err: err}
	}
	if msg.Empty() {
		return "", &ItemDispatchError{Recipient: it.Recipient, Err: errNoContent}
	}
	id, err := d.Sender.Send(ctx, job.DeviceID, it.Recipient, msg)
	if err != nil {
		if errors.Is(err, channel.ErrUnavailable) {
			return "", err
		}
		return "", &ItemDispatchError{Recipient: it.Recipient, Err: err}
	}
	return id, nil
}

// record writes the item outcome, then bumps progress only if this call was
// the one that moved the item out of pending.
func (d *Dispatcher) record(ctx context.Context, jobID string, it *JobItem, msgID string, sendErr error) error {
	to, idPtr, errPtr := ItemSent, &msgID, (*string)(nil)
	dSent, dFailed := 1, 0
	if sendErr != nil {
		msg := sendErr.Error()
		to, idPtr, errPtr = ItemFailed, nil, &msg
		dSent, dFailed = 0, 1
	}

	recorded, err := d.Repo.UpdateItemStatus(ctx, it.ID, to, idPtr, errPtr)
	if err != nil {
		return fmt.Errorf("update item %d: %w", it.ID, err)
	}
	if !recorded {
		d.Log.Warn().Str("job", jobID).Uint64("item", it.ID).Msg("item was no longer pending; skipping progress")
		return nil
	}
	if err := d.Repo.UpdateProgress(ctx, jobID, dSent, dFailed); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// finish moves a processing job to its outcome. Jobs diverted by an operator
// in the meantime keep their status.
func (d *Dispatcher) finish(ctx context.Context, job *Job, to Status, errMsg *string) error {
	ok, err := d.Repo.TransitionStatus(ctx, job.ID, []Status{StatusProcessing}, to, errMsg)
	if err != nil {
		return fmt.Errorf("mark job %s: %w", to, err)
	}
	if !ok {
		d.Log.Info().Str("job", job.ID).Str("wanted", string(to)).Msg("job status changed externally; leaving it")
		return nil
	}
	d.publish(ctx, job.ID, to)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, jobID string, st Status) {
	if d.Events == nil {
		return
	}
	j, err := d.Repo.GetJob(ctx, jobID)
	if err != nil {
		d.Log.Warn().Err(err).Str("job", jobID).Msg("load job for event")
		return
	}
	if err := d.Events.Publish(ctx, eventFor(j)); err != nil {
		d.Log.Warn().Err(err).Str("job", jobID).Str("status", string(st)).Msg("publish job event")
	}
}

func (d *Dispatcher) delayPolicy() *DelayPolicy {
	if d.Delay == nil {
		return NewDelayPolicy(DefaultDelay)
	}
	return d.Delay
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep == nil {
		return sleepCtx(ctx, dur)
	}
	return d.Sleep(ctx, dur)
}
