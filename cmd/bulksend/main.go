package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bulksend/internal/auth"
	"bulksend/internal/channel"
	"bulksend/internal/config"
	"bulksend/internal/db"
	"bulksend/internal/events"
	httpx "bulksend/internal/http"
	"bulksend/internal/jobs"
	"bulksend/internal/logging"
	"bulksend/internal/wake"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("connect database")
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	var pub events.Publisher = events.Nop{}
	if cfg.RabbitURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("connect rabbitmq")
		}
		defer rp.Close()
		pub = rp
	}

	var sender jobs.Sender
	if cfg.GatewayURL != "" {
		sender = channel.NewGateway(cfg.GatewayURL, cfg.GatewayToken)
	} else {
		log.Warn().Msg("GATEWAY_URL not set; messages are only logged")
		sender = &channel.DryRun{Log: log}
	}

	repo := jobs.NewRepo(gdb)
	delay := jobs.NewDelayPolicy(cfg.Dispatch.DefaultDelay)
	disp := jobs.NewDispatcher(repo, sender, delay, pub, log)
	worker := jobs.NewWorker(cfg.WorkerID, repo, disp, cfg.Dispatch.PollInterval, log)

	bus, err := newWakeBus(cfg, gdb, log)
	if err != nil {
		log.Fatal().Err(err).Str("bus", cfg.WakeBus).Msg("wake bus")
	}
	if bus != nil {
		defer bus.Close()
	}
	notifier := &wake.Notifier{Bus: bus, Log: log}
	if cfg.RunsWorker() {
		notifier.Local = worker
	}
	ctl := jobs.NewController(repo, notifier, pub, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if cfg.RunsWorker() {
		// before the first tick: nothing may still look processing
		n, err := jobs.Recover(ctx, repo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("recover interrupted jobs")
		}
		if n > 0 {
			log.Warn().Int("jobs", n).Msg("requeued jobs left processing by a previous run")
		}

		rec := jobs.NewReconciler(repo, log)
		if err := rec.Start(ctx, cfg.Dispatch.ReconcileSpec); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.Dispatch.ReconcileSpec).Msg("schedule reconciler")
		}
		defer rec.Stop()

		if bus != nil {
			if err := bus.Subscribe(ctx, worker.Wake); err != nil {
				log.Warn().Err(err).Msg("wake subscribe failed; relying on polling")
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	if cfg.ConfigFile != "" {
		go func() {
			err := config.Watch(ctx, cfg.ConfigFile, cfg.Dispatch, log, func(d config.Dispatch) {
				delay.SetDefault(d.DefaultDelay)
				worker.SetInterval(d.PollInterval)
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	var srv *http.Server
	if cfg.RunsAPI() {
		jwtSvc := auth.NewJWT(cfg.JWTSecret)
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpx.NewRouter(cfg, gdb, jwtSvc, ctl, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server")
				stop()
			}
		}()
	}

	log.Info().Str("mode", cfg.RunMode).Str("worker", cfg.WorkerID).Msg("bulksend started")

	// graceful shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	// the worker requeues an interrupted job before returning
	wg.Wait()
}

func newWakeBus(cfg config.Config, gdb *gorm.DB, log zerolog.Logger) (wake.Bus, error) {
	switch cfg.WakeBus {
	case "postgres":
		if cfg.DatabaseDriver != "postgres" {
			return nil, fmt.Errorf("WAKE_BUS=postgres needs DATABASE_DRIVER=postgres, have %s", cfg.DatabaseDriver)
		}
		return wake.NewPGBus(gdb, cfg.DatabaseURL, log), nil
	case "redis":
		return wake.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log), nil
	}
	return nil, nil
}
