package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the YAML overlay at path whenever it changes and passes the
// result to fn. The directory is watched rather than the file so editors that
// replace the file on save still trigger a reload. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, base Dispatch, log zerolog.Logger, fn func(Dispatch)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("watching config file")

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		d, err := LoadFile(path, base)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config reload failed; keeping previous values")
			return
		}
		log.Info().
			Dur("default_delay", d.DefaultDelay).
			Dur("poll_interval", d.PollInterval).
			Msg("config reloaded")
		fn(d)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// debounce partial writes
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watch error")
		}
	}
}
