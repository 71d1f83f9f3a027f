package wake

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// PGBus uses LISTEN/NOTIFY on the job database itself.
type PGBus struct {
	DB  *gorm.DB
	DSN string
	Log zerolog.Logger

	listener *pq.Listener
}

func NewPGBus(db *gorm.DB, dsn string, log zerolog.Logger) *PGBus {
	return &PGBus{DB: db, DSN: dsn, Log: log}
}

func (b *PGBus) Publish(ctx context.Context) error {
	return b.DB.WithContext(ctx).Exec("select pg_notify(?, ?)", Channel, "wake").Error
}

func (b *PGBus) Subscribe(ctx context.Context, fn func()) error {
	b.listener = pq.NewListener(b.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.Log.Warn().Err(err).Int("event", int(ev)).Msg("wake listener event")
		}
	})
	if err := b.listener.Listen(Channel); err != nil {
		_ = b.listener.Close()
		return err
	}

	go func() {
		// pq may drop notifications while reconnecting; ping periodically so
		// a dead connection is noticed and re-established
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.listener.Notify:
				// a nil notification follows a reconnect; wake anyway
				fn()
			case <-ping.C:
				go func() { _ = b.listener.Ping() }()
			}
		}
	}()
	return nil
}

func (b *PGBus) Close() error {
	if b.listener == nil {
		return nil
	}
	return b.listener.Close()
}
