package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Recover must run before the worker's first tick. Any job still marked
// processing was left behind by a previous process and goes back to queued;
// its items are not touched, so it resumes from its pending set.
func Recover(ctx context.Context, repo *Repo, log zerolog.Logger) (int, error) {
	stuck, err := repo.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}

	n := 0
	for _, j := range stuck {
		ok, err := repo.TransitionStatus(ctx, j.ID, []Status{StatusProcessing}, StatusQueued, nil)
		if err != nil {
			return n, fmt.Errorf("requeue job %s: %w", j.ID, err)
		}
		if !ok {
			continue
		}
		n++

		p, changed, err := repo.ReconcileProgress(ctx, j.ID)
		if err != nil {
			log.Warn().Err(err).Str("job", j.ID).Msg("reconcile recovered job")
		}
		log.Info().
			Str("job", j.ID).
			Int("sent", p.Sent).
			Int("failed", p.Failed).
			Int("total", p.Total).
			Bool("progress_repaired", changed).
			Msg("recovered interrupted job")
	}
	return n, nil
}
