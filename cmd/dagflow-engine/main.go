// dagflow engine — движок выполнения DAG workflow.
//
// Engine:
//   - Принимает определения и runs через REST API
//   - Планирует узлы и отправляет задачи исполнителям (LOCAL, REST, GRPC, AMQP)
//   - Принимает результаты (REST callback, очередь engine.results)
//   - Планирует повторы и выполняет компенсацию
//   - Ведёт журнал событий и публикует его в RabbitMQ
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/dagflow/internal/api"
	"github.com/shaiso/dagflow/internal/compensation"
	"github.com/shaiso/dagflow/internal/config"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/mq"
	"github.com/shaiso/dagflow/internal/orchestrator"
	"github.com/shaiso/dagflow/internal/registry"
	"github.com/shaiso/dagflow/internal/scheduler"
	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/transport"
	"github.com/shaiso/dagflow/internal/worker"
)

// localExecutorType — тип встроенного исполнителя движка.
const localExecutorType = "local"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLoggerWith(telemetry.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logger.Info("starting dagflow-engine",
		"storage", cfg.Storage.Mode,
		"history", cfg.Storage.History,
		"retry_queue", cfg.RetryQueue.Backend,
	)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dagflow-engine failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dagflow-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Tracing
	tp, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		tp.Shutdown(shutdownCtx)
	}()

	// Хранилища
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	queue, closeQueue, err := openRetryQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	// RabbitMQ
	var mqConn *mq.Connection
	var publisher *mq.Publisher
	if cfg.MQ.Enabled {
		mqConn, err = mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, AMQP transport and event publishing disabled", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Транспорт
	router := transport.NewRouter()
	local := transport.NewLocalDispatcher(worker.NewRuntime(worker.RuntimeConfig{
		ExecutorID: "engine-local",
		Logger:     logger,
	}), logger)
	router.Register(domain.CommunicationLocal, local)
	router.Register(domain.CommunicationREST, transport.NewRESTDispatcher(nil, cfg.Engine.CallbackBaseURL))

	grpcDispatcher := transport.NewGRPCDispatcher()
	defer grpcDispatcher.Close()
	router.Register(domain.CommunicationGRPC, grpcDispatcher)

	if publisher != nil {
		router.Register(domain.CommunicationAMQP, transport.NewAMQPDispatcher(publisher))
	}

	// Реестр исполнителей
	reg, err := registry.New(registry.Config{
		Strategy:         cfg.Registry.Strategy,
		Dispatcher:       router,
		HeartbeatTimeout: cfg.Registry.HeartbeatTimeout,
		EvictAfter:       cfg.Registry.EvictAfter,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if _, err := reg.Register(domain.ExecutorInfo{
		ID:                "engine-local",
		Type:              localExecutorType,
		CommunicationType: domain.CommunicationLocal,
		Endpoint:          "in-process",
		Metadata:          map[string]string{"builtin": "true"},
	}); err != nil {
		return err
	}

	grpcProber := registry.NewGRPCProber()
	defer grpcProber.Close()
	discovery := registry.NewDiscovery(reg, registry.DiscoveryConfig{
		Probers: map[domain.CommunicationType]registry.Prober{
			domain.CommunicationREST: registry.NewHTTPProber(nil),
			domain.CommunicationGRPC: grpcProber,
			domain.CommunicationLocal: registry.ProberFunc(func(context.Context, domain.ExecutorInfo) error {
				return nil
			}),
		},
		Interval:    cfg.Registry.ProbeInterval,
		Concurrency: cfg.Registry.ProbeConcurrency,
		Logger:      logger,
	})
	go discovery.Run(ctx)

	// Scheduler
	sched := scheduler.New(scheduler.Config{
		Registry:        reg,
		Queue:           queue,
		SweepInterval:   cfg.Scheduler.SweepInterval,
		SweepBatch:      cfg.Scheduler.SweepBatch,
		CleanupInterval: cfg.Scheduler.CleanupInterval,
		Retention:       cfg.Scheduler.Retention,
		DispatchRate:    cfg.Scheduler.DispatchRate,
		DispatchBurst:   cfg.Scheduler.DispatchBurst,
		Logger:          logger,
	})

	// Orchestrator
	orchCfg := orchestrator.Config{
		Runs:         st.runs,
		Definitions:  st.definitions,
		History:      st.history,
		Scheduler:    sched,
		Compensation: compensation.New(compensation.Config{Logger: logger}),
		Logger:       logger,
	}
	if publisher != nil {
		orchCfg.Publisher = publisher
	}
	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		return err
	}
	local.SetHandler(orch)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// Результаты исполнителей из RabbitMQ
	if mqConn != nil {
		results := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueEngineResults),
			Handler:  orch.HandleResultMessage,
			Prefetch: 10,
		})
		go func() {
			if err := results.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("result consumer error", "error", err)
			}
		}()
		defer results.Stop()
	}

	// HTTP API
	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Definitions:  st.definitions,
		Runs:         st.runs,
		Registry:     reg,
		Logger:       logger,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Ожидаем сигнал завершения
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Локальные задачи дописывают результаты до закрытия хранилищ
	local.Wait()
	return nil
}
