package jobs

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"bulksend/internal/events"
)

// Waker nudges the poller after a job becomes eligible.
type Waker interface {
	Wake()
}

// Controller is the operator-facing side of the queue. It only writes rows;
// the dispatcher notices status changes on its next item.
type Controller struct {
	Repo   *Repo
	Waker  Waker
	Events events.Publisher
	Log    zerolog.Logger
}

func NewController(repo *Repo, waker Waker, pub events.Publisher, log zerolog.Logger) *Controller {
	return &Controller{Repo: repo, Waker: waker, Events: pub, Log: log}
}

// Create queues a job. created is false when an earlier job with the same
// idempotency key was returned instead.
func (c *Controller) Create(ctx context.Context, in CreateJobInput) (j *Job, created bool, err error) {
	j, created, err = c.Repo.CreateJob(ctx, in)
	if err != nil {
		return nil, false, err
	}
	if !created {
		c.Log.Debug().Str("job", j.ID).Msg("idempotent create; returning existing job")
		return j, false, nil
	}
	c.Log.Info().
		Str("job", j.ID).
		Uint64("user", j.UserID).
		Str("device", j.DeviceID).
		Str("type", string(j.Type)).
		Int("total", j.Progress.Total).
		Msg("job queued")
	c.wake()
	return j, true, nil
}

func (c *Controller) Get(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	return c.Repo.GetJobForUser(ctx, jobID, userID)
}

func (c *Controller) List(ctx context.Context, userID uint64, status Status, limit int) ([]Job, error) {
	if status != "" && !status.IsValid() {
		return nil, invalid("status", "unknown status %q", status)
	}
	return c.Repo.ListJobs(ctx, userID, status, limit)
}

func (c *Controller) Items(ctx context.Context, userID uint64, jobID string, status ItemStatus, afterID uint64, limit int) ([]JobItem, error) {
	if status != "" && !status.IsValid() {
		return nil, invalid("status", "unknown item status %q", status)
	}
	if _, err := c.Repo.GetJobForUser(ctx, jobID, userID); err != nil {
		return nil, err
	}
	return c.Repo.ListItems(ctx, jobID, status, afterID, limit)
}

// Cancel stops a job for good. Sent items stay sent; pending items are
// abandoned. Cancelling a finished job is a no-op.
func (c *Controller) Cancel(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	return c.transition(ctx, userID, jobID,
		[]Status{StatusQueued, StatusProcessing, StatusPaused}, StatusCancelled)
}

// Pause only applies to queued or processing jobs.
func (c *Controller) Pause(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	return c.transition(ctx, userID, jobID,
		[]Status{StatusQueued, StatusProcessing}, StatusPaused)
}

// Resume puts a paused job back at its place in the FIFO.
func (c *Controller) Resume(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	j, err := c.transition(ctx, userID, jobID, []Status{StatusPaused}, StatusQueued)
	if err != nil {
		return nil, err
	}
	if j.Status == StatusQueued {
		c.wake()
	}
	return j, nil
}

// Retry queues a new job for the recipients that failed in a finished job.
// The source job is left untouched.
func (c *Controller) Retry(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	src, err := c.Repo.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !src.Status.Terminal() {
		return nil, invalid("status", "job is %s; only finished jobs can be retried", src.Status)
	}
	recipients, err := c.Repo.FailedRecipients(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, invalid("recipients", "job has no failed items")
	}

	srcID := src.ID
	j, _, err := c.Create(ctx, CreateJobInput{
		UserID:     src.UserID,
		DeviceID:   src.DeviceID,
		Type:       src.Type,
		Data:       []byte(src.Data),
		Recipients: recipients,
		RetryOf:    &srcID,
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info().Str("job", j.ID).Str("retry_of", srcID).Int("total", j.Progress.Total).Msg("retry job created")
	return j, nil
}

func (c *Controller) transition(ctx context.Context, userID uint64, jobID string, from []Status, to Status) (*Job, error) {
	j, err := c.Repo.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, j.Status) {
		return j, nil
	}
	ok, err := c.Repo.TransitionStatus(ctx, j.ID, from, to, nil)
	if err != nil {
		return nil, err
	}
	if ok {
		c.Log.Info().Str("job", j.ID).Str("from", string(j.Status)).Str("to", string(to)).Msg("job status changed by operator")
	}
	j, err = c.Repo.GetJob(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if ok && c.Events != nil {
		if err := c.Events.Publish(ctx, eventFor(j)); err != nil {
			c.Log.Warn().Err(err).Str("job", j.ID).Msg("publish job event")
		}
	}
	return j, nil
}

func (c *Controller) wake() {
	if c.Waker != nil {
		c.Waker.Wake()
	}
}
