package wake

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisBus struct {
	Client *redis.Client
	Log    zerolog.Logger

	sub *redis.PubSub
}

func NewRedisBus(addr, password string, db int, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		Log:    log,
	}
}

func (b *RedisBus) Publish(ctx context.Context) error {
	return b.Client.Publish(ctx, Channel, "wake").Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func()) error {
	b.sub = b.Client.Subscribe(ctx, Channel)
	// wait for the subscription confirmation so errors surface here
	if _, err := b.sub.Receive(ctx); err != nil {
		_ = b.sub.Close()
		return err
	}
	ch := b.sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn()
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	if b.sub != nil {
		_ = b.sub.Close()
	}
	return b.Client.Close()
}
