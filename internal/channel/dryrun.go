package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DryRun accepts every device and logs instead of sending. Used when no
// gateway is configured.
type DryRun struct {
	Log zerolog.Logger
	seq atomic.Uint64
}

func (d *DryRun) Available(ctx context.Context, deviceID string) error {
	return nil
}

func (d *DryRun) Send(ctx context.Context, deviceID, recipient string, msg Message) (string, error) {
	id := fmt.Sprintf("dry-%d-%d", time.Now().Unix(), d.seq.Add(1))
	d.Log.Info().
		Str("device", deviceID).
		Str("recipient", recipient).
		Bool("media", msg.Media != nil).
		Int("text_len", len(msg.Text)).
		Str("message_id", id).
		Msg("dry-run send")
	return id, nil
}
