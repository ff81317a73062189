package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	config "github.com/prassanna-ravishankar/torale-sub001/configs"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/agent"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/cryptobox"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/executor"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/notify"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/observability"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/scheduler"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/statemachine"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage/objectstore"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage/postgres"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := logger.Init(logger.DefaultConfig("torale-worker")); err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("torale worker starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		provider, err := observability.Init(ctx, observability.DefaultConfig("torale-worker"))
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

	archive, err := objectstore.New(ctx, objectstore.Config{
		Bucket:   cfg.ObjectStoreBucket,
		Prefix:   cfg.ObjectStorePrefix,
		Region:   cfg.ObjectStoreRegion,
		Endpoint: cfg.ObjectStoreEndpoint,
	})
	if err != nil {
		logger.Fatal("failed to initialize object store archive", zap.Error(err))
	}

	var slackSender *notify.SlackSender
	if cfg.OAuthEncryptionKey != "" {
		box, err := cryptobox.New(cfg.OAuthEncryptionKey)
		if err != nil {
			logger.Fatal("failed to initialize oauth token box", zap.Error(err))
		}
		slackSender = notify.NewSlackSender(store, box)
	}

	webhookService := notify.NewWebhookService()
	dispatcher := notify.NewDispatcher(store, store, webhookService, slackSender, notify.NewLoggingEmailSender())

	// The worker installs its own retry/next-run scheduler jobs directly
	// against the job store; it never runs Core's poll loop.
	schedulerEffects := scheduler.NewCore(scheduler.Config{
		Jobs:       store,
		Tasks:      store,
		Executions: store,
		Queue:      queue,
	})
	sm := statemachine.New(store, schedulerEffects)

	agentClient := agent.NewClient(cfg.AgentURLFree, cfg.AgentURLPaid)

	engineCfg := executor.Config{
		Tasks:         store,
		Executions:    store,
		Users:         store,
		Jobs:          store,
		StateMachine:  sm,
		Agent:         agentClient,
		Dispatcher:    dispatcher,
		HistoryWindow: cfg.HistoryWindow,
	}
	// archive is a *objectstore.Archive; boxing a nil *Archive into the
	// Archive interface field would make e.archive != nil true even when
	// disabled, so only assign it when objectstore.New actually built one.
	if archive != nil {
		engineCfg.Archive = archive
	}
	engine := executor.NewEngine(engineCfg)

	worker := executor.NewWorker(queue, engine, cfg.WorkerConcurrency)

	go serveMetrics(cfg.MetricsPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("worker loop exited with error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	cancel()
	logger.Info("worker shutdown complete")
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
