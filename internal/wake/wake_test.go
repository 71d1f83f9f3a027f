package wake

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeBus struct {
	published int
	err       error
}

func (b *fakeBus) Publish(ctx context.Context) error {
	b.published++
	return b.err
}

func (b *fakeBus) Subscribe(ctx context.Context, fn func()) error { return nil }
func (b *fakeBus) Close() error                                   { return nil }

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func TestNotifier_WakesLocalAndPublishes(t *testing.T) {
	bus := &fakeBus{}
	local := &countingWaker{}
	n := &Notifier{Bus: bus, Local: local, Log: zerolog.Nop()}

	n.Wake()
	n.Wake()

	if local.n != 2 {
		t.Fatalf("expected 2 local wakes, got %d", local.n)
	}
	if bus.published != 2 {
		t.Fatalf("expected 2 publishes, got %d", bus.published)
	}
}

func TestNotifier_PublishErrorIsSwallowed(t *testing.T) {
	bus := &fakeBus{err: errors.New("redis down")}
	n := &Notifier{Bus: bus, Log: zerolog.Nop()}

	n.Wake() // must not panic without a local waker

	if bus.published != 1 {
		t.Fatalf("expected publish attempt, got %d", bus.published)
	}
}
