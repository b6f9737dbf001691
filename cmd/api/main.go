package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geocoder89/eventhub-registrations/internal/auth"
	"github.com/geocoder89/eventhub-registrations/internal/config"
	"github.com/geocoder89/eventhub-registrations/internal/db"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	httpx "github.com/geocoder89/eventhub-registrations/internal/http"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
	"github.com/geocoder89/eventhub-registrations/internal/queue/redisclient"
	"github.com/geocoder89/eventhub-registrations/internal/repo/postgres"
	"github.com/geocoder89/eventhub-registrations/internal/security"
)

const serviceName = "eventhub-registrations-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
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

	tokens, err := security.NewInviteTokens(cfg.InviteTokenSecret)
	if err != nil {
		return err
	}

	engOpts := []engine.Option{engine.WithLogger(log), engine.WithProm(prom)}
	if cfg.Redis.Addr != "" {
		rdb := redisclient.New(redisclient.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()

		if err := rdb.Ping(ctx); err != nil {
			// workers still poll, so a missing redis only slows delivery down
			log.Warn("redis unavailable, wake signal disabled", "addr", cfg.Redis.Addr, "err", err)
		} else {
			engOpts = append(engOpts, engine.WithWaker(redisclient.NewWaker(rdb, cfg.Redis.Channel, log)))
		}
	}

	eng := engine.New(store, tokens, engine.Config{
		MaxConflictRetries: cfg.ConflictRetries,
		DefaultInviteTTL:   cfg.DefaultInviteTTL,
		InviteBaseURL:      cfg.InviteBaseURL,
		MaxAttempts:        cfg.Worker.MaxAttempts,
	}, engOpts...)

	router := httpx.NewRouter(httpx.Deps{
		Log:         log,
		Prom:        prom,
		Service:     eng,
		Jobs:        store.Jobs,
		Inbox:       store.Inbox,
		Verifier:    auth.NewManager(cfg.JWTSecret, cfg.JWTAccessTTL),
		Ping:        store.Ping,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Env:         cfg.Env,
		ServiceName: serviceName,
		CORSOrigins: cfg.CORSOrigins,
		RedeemLimit: cfg.RedeemRateLimit,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
