package jobs

import (
	"sync/atomic"
	"time"
)

const (
	// MinDelay is the safety floor between two sends on the same channel.
	// It is not configurable and overrides both the default and per-job values.
	MinDelay = 3 * time.Second

	// MaxDelay bounds a per-job override.
	MaxDelay = 5 * time.Minute

	DefaultDelay = 5 * time.Second
)

// DelayPolicy computes the inter-message delay. The default can be swapped at
// runtime (config reload) while a dispatcher is running.
type DelayPolicy struct {
	def atomic.Int64
}

func NewDelayPolicy(def time.Duration) *DelayPolicy {
	p := &DelayPolicy{}
	p.SetDefault(def)
	return p
}

func (p *DelayPolicy) SetDefault(d time.Duration) {
	if d <= 0 {
		d = DefaultDelay
	}
	p.def.Store(int64(d))
}

func (p *DelayPolicy) Default() time.Duration {
	return time.Duration(p.def.Load())
}

// Effective returns the delay to apply before each send.
func (p *DelayPolicy) Effective(override *time.Duration) time.Duration {
	d := p.Default()
	if override != nil {
		d = *override
	}
	if d < MinDelay {
		return MinDelay
	}
	return d
}
