package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orbital-run/jobctl/approval"
	"github.com/orbital-run/jobctl/httpapi"
	"github.com/orbital-run/jobctl/inforequest"
	"github.com/orbital-run/jobctl/lease"
	"github.com/orbital-run/jobctl/logbus"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/quota"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/runlifecycle"
	"github.com/orbital-run/jobctl/scheduler"
	"github.com/orbital-run/jobctl/store"
)

func main() {
	cfg := platform.LoadConfig()
	logger := platform.NewStdLogger("jobctl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := platform.InitTracing(ctx, platform.TracingConfig{
		ServiceName:   "jobctl",
		SamplingRatio: 1.0,
	})
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var st store.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		client := redis.NewClient(opts)
		st = store.NewRedisStore(client, 0)
		logger.Info("using redis store", map[string]interface{}{"addr": opts.Addr})
	} else {
		st = store.NewMemStore()
		logger.Info("using in-memory store", nil)
	}

	clock := platform.RealClock{}
	bus := logbus.NewBus()
	gate := approval.New(st, clock, cfg.RequireApproval)
	meter := quota.New(clock)
	defaultPolicy := retry.Default(cfg.MaxRetries, cfg.BackoffBaseSeconds, cfg.BackoffJitterSeconds)
	leaseManager := lease.New(st, bus, clock, logger, cfg.DefaultClaimTTL, defaultPolicy)
	sched := scheduler.New(st, gate, meter, clock, logger)
	lifecycle := runlifecycle.New(st, bus, leaseManager, sched, clock, defaultPolicy)
	infoChannel := inforequest.New(st)

	server := httpapi.NewServer(httpapi.Deps{
		Config:             cfg,
		Store:              st,
		Bus:                bus,
		Lease:              leaseManager,
		Gate:               gate,
		Info:               infoChannel,
		Scheduler:          sched,
		Lifecycle:          lifecycle,
		Quota:              meter,
		Clock:              clock,
		Logger:             logger,
		DefaultRetryPolicy: defaultPolicy,
	})

	if cfg.SchedulerBackgroundInterval > 0 {
		go sched.RunBackgroundLoop(ctx, cfg.SchedulerBackgroundInterval)
	}
	go leaseExpireLoop(ctx, leaseManager, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

func leaseExpireLoop(ctx context.Context, m *lease.Manager, logger platform.ComponentLogger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ExpireScan(ctx); err != nil {
				logger.Error("expire scan failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
