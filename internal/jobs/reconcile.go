package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultReconcileSpec = "@every 15m"

// Reconciler periodically repairs progress counters from item rows. Jobs in
// processing are skipped because their dispatcher is still writing.
type Reconciler struct {
	Repo *Repo
	Log  zerolog.Logger

	c *cron.Cron
}

func NewReconciler(repo *Repo, log zerolog.Logger) *Reconciler {
	return &Reconciler{Repo: repo, Log: log}
}

// Start schedules RunOnce with a standard cron spec or a descriptor such as
// "@every 15m".
func (r *Reconciler) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultReconcileSpec
	}
	r.c = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := r.c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := r.RunOnce(rctx); err != nil {
			r.Log.Error().Err(err).Msg("progress reconcile failed")
		}
	}); err != nil {
		return err
	}
	r.c.Start()
	r.Log.Info().Str("spec", spec).Msg("progress reconciler scheduled")
	return nil
}

func (r *Reconciler) Stop() {
	if r.c == nil {
		return
	}
	<-r.c.Stop().Done()
}

// RunOnce reconciles every job that is not processing and returns how many
// needed repair.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	list, err := r.Repo.ListByStatus(ctx,
		StatusQueued, StatusPaused, StatusCompleted, StatusCancelled, StatusFailed)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, j := range list {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		p, changed, err := r.Repo.ReconcileProgress(ctx, j.ID)
		if err != nil {
			r.Log.Warn().Err(err).Str("job", j.ID).Msg("reconcile job progress")
			continue
		}
		if changed {
			repaired++
			r.Log.Warn().
				Str("job", j.ID).
				Int("cached_sent", j.Progress.Sent).
				Int("cached_failed", j.Progress.Failed).
				Int("sent", p.Sent).
				Int("failed", p.Failed).
				Msg("progress drift repaired")
		}
	}
	return repaired, nil
}
