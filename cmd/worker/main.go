package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/geocoder89/eventhub-registrations/internal/config"
	"github.com/geocoder89/eventhub-registrations/internal/db"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/notifications"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
	"github.com/geocoder89/eventhub-registrations/internal/queue/redisclient"
	"github.com/geocoder89/eventhub-registrations/internal/queue/worker"
	"github.com/geocoder89/eventhub-registrations/internal/repo/postgres"
)

const serviceName = "eventhub-registrations-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("worker shutdown complete")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
		Env:         cfg.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DB.MaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	store := postgres.NewStore(pool, prom, job.DedupPolicy{ReminderWindow: cfg.Worker.ReminderDedupWindow})
	deliveries := postgres.NewDeliveriesRepo(pool, prom)

	notifier, err := notifications.New(cfg.Mail, log)
	if err != nil {
		return err
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = host + "-" + strconv.Itoa(os.Getpid())
	}

	workerOpts := []worker.Option{worker.WithLogger(log), worker.WithProm(prom), worker.WithInbox(store.Inbox)}
	reminderOpts := []worker.ReminderOption{worker.WithReminderLogger(log), worker.WithReminderProm(prom)}
	deps := []worker.Pinger{store}

	if cfg.Redis.Addr != "" {
		rdb := redisclient.New(redisclient.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()

		if err := rdb.Ping(ctx); err != nil {
			log.Warn("redis unavailable, polling only", "addr", cfg.Redis.Addr, "err", err)
		} else {
			waker := redisclient.NewWaker(rdb, cfg.Redis.Channel, log)
			workerOpts = append(workerOpts, worker.WithWake(rdb.Subscribe(ctx, cfg.Redis.Channel)))
			reminderOpts = append(reminderOpts, worker.WithReminderWake(waker.Wake))
			deps = append(deps, rdb)
		}
	}

	w := worker.New(worker.Config{
		WorkerID:     workerID,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		LeaseTimeout: cfg.Worker.LeaseTimeout,
		ReapInterval: cfg.Worker.ReapInterval,
		Backoff: worker.Backoff{
			Base:   cfg.Worker.BackoffBase,
			Cap:    cfg.Worker.BackoffCap,
			Jitter: cfg.Worker.BackoffJitter,
		},
	}, store.Jobs, deliveries, notifier, notifications.NewRenderer(), workerOpts...)

	reminders := worker.NewReminderScheduler(store, worker.ReminderConfig{
		Lead:         cfg.Worker.ReminderLead,
		ScanInterval: cfg.Worker.ReminderScan,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, reminderOpts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", w.HealthHandler(deps...))

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return reminders.Run(gctx) })
	g.Go(func() error {
		log.Info("worker health server listening", "port", cfg.Worker.HealthPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
