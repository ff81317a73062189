package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	config "github.com/prassanna-ravishankar/torale-sub001/configs"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/coordination/etcd"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/observability"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/scheduler"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage/postgres"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := logger.Init(logger.DefaultConfig("torale-scheduler")); err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("torale scheduler starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		provider, err := observability.Init(ctx, observability.DefaultConfig("torale-scheduler"))
		if err != nil {
			logger.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer provider.Shutdown(context.Background())
	}

	store, err := postgres.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	queue, err := redis.NewRedisQueue(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		logger.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "scheduler-" + uuid.New().String()
	}
	election := etcdCoord.NewElection("torale-scheduler-leader")

	logger.Info("campaigning for scheduler leadership", zap.String("candidate", hostname))
	if err := election.Campaign(ctx, hostname); err != nil {
		logger.Fatal("election campaign failed", zap.Error(err))
	}
	logger.Info("acquired scheduler leadership", zap.String("leader", hostname))

	core := scheduler.NewCore(scheduler.Config{
		Jobs:                    store,
		Tasks:                   store,
		Executions:              store,
		Queue:                   queue,
		PollInterval:            cfg.SchedulerPollInterval,
		DedupeWindow:            cfg.DedupeWindow,
		StaleExecutionThreshold: cfg.StaleExecutionThreshold,
	})

	if err := core.ReconcileOnStartup(ctx); err != nil {
		logger.Error("startup reconciliation failed", zap.Error(err))
	}
	if err := core.ReapStaleExecutions(ctx); err != nil {
		logger.Error("startup stale-execution reap failed", zap.Error(err))
	}

	go serveMetrics(cfg.MetricsPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go core.Run(ctx, election, hostname)

	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	cancel()

	if err := election.Resign(context.Background()); err != nil {
		logger.Warn("failed to resign leadership", zap.Error(err))
	} else {
		logger.Info("leadership resigned")
	}

	logger.Info("scheduler shutdown complete")
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
