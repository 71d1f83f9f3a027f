// Package wake carries "there is new queued work" between processes, so an
// API-only process can start the worker's next tick without waiting for the
// poll interval. Missing a signal is harmless; the poller still ticks.
package wake

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const Channel = "bulksend_wake"

type Bus interface {
	Publish(ctx context.Context) error
	// Subscribe calls fn for every signal until ctx is done.
	Subscribe(ctx context.Context, fn func()) error
	Close() error
}

// Notifier adapts a Bus to the fire-and-forget Wake() used by the
// lifecycle controller.
type Notifier struct {
	Bus   Bus
	Local interface{ Wake() }
	Log   zerolog.Logger
}

func (n *Notifier) Wake() {
	if n.Local != nil {
		n.Local.Wake()
	}
	if n.Bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Bus.Publish(ctx); err != nil {
		n.Log.Warn().Err(err).Msg("publish wake signal")
	}
}
