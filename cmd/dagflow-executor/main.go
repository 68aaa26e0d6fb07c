// dagflow executor — исполнитель задач движка.
//
// Executor:
//   - Регистрируется в движке через API и шлёт heartbeat
//   - Получает задачи из RabbitMQ (AMQP), по gRPC Dispatch или POST /tasks (REST)
//   - Выполняет узлы типов http, delay, transform, noop
//   - Отправляет результат в engine.results или на callback URL
//   - Отвечает на grpc.health.v1 и GET /healthz
//
// Исполнители масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/shaiso/dagflow/internal/cli"
	"github.com/shaiso/dagflow/internal/config"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/mq"
	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/transport"
	"github.com/shaiso/dagflow/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLoggerWith(telemetry.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	ec := cfg.Executor
	if ec.ID == "" {
		host, _ := os.Hostname()
		ec.ID = fmt.Sprintf("%s-%s-%s", ec.Type, host, uuid.NewString()[:8])
	}
	ec.Communication = strings.ToUpper(ec.Communication)
	logger = logger.With("executor_id", ec.ID)
	logger.Info("starting dagflow-executor", "executor_type", ec.Type, "communication", ec.Communication)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, ec, logger); err != nil {
		logger.Error("dagflow-executor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dagflow-executor stopped")
}

func run(ctx context.Context, cfg *config.Config, ec config.ExecutorConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	runtime := worker.NewRuntime(worker.RuntimeConfig{
		ExecutorID:     ec.ID,
		DefaultTimeout: ec.TaskTimeout,
		Logger:         logger,
	})

	// RabbitMQ
	var mqConn *mq.Connection
	var publisher *mq.Publisher
	if cfg.MQ.Enabled || ec.Communication == string(domain.CommunicationAMQP) {
		mqConn, err = mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			if ec.Communication == string(domain.CommunicationAMQP) {
				return fmt.Errorf("connect rabbitmq: %w", err)
			}
			logger.Warn("RabbitMQ not available, results go to callback only", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// REST и gRPC приём задач
	receiver := transport.NewReceiver(runtime, reporter(publisher), logger)

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	transport.RegisterTaskReceiver(grpcServer, receiver)

	grpcLis, err := net.Listen("tcp", ":"+strconv.Itoa(ec.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("grpc server error", "error", err)
			cancel()
		}
	}()
	defer grpcServer.GracefulStop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		// В режиме AMQP исполнитель без брокера не получает задач
		if ec.Communication == string(domain.CommunicationAMQP) && !mqConn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /tasks", receiver)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(ec.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Регистрация в движке
	client := cli.NewClient(ec.EngineURL, ec.TenantID)
	if _, err := client.RegisterExecutor(ctx, registration(ec)); err != nil {
		return fmt.Errorf("register executor: %w", err)
	}
	logger.Info("registered in engine", "engine_url", ec.EngineURL)

	heartbeat := func(ctx context.Context) error { return client.Heartbeat(ctx, ec.ID) }

	// AMQP worker шлёт heartbeat сам
	var w *worker.Worker
	if ec.Communication == string(domain.CommunicationAMQP) {
		w = worker.New(worker.Config{
			Conn:              mqConn,
			Publisher:         publisher,
			Runtime:           runtime,
			ExecutorType:      ec.Type,
			Prefetch:          ec.Prefetch,
			Heartbeat:         heartbeat,
			HeartbeatInterval: ec.HeartbeatInterval,
			Logger:            logger,
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	} else {
		go heartbeatLoop(ctx, heartbeat, ec.HeartbeatInterval, logger)
	}

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()

	if w != nil {
		w.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	receiver.Wait()

	if err := client.UnregisterExecutor(shutdownCtx, ec.ID); err != nil {
		logger.Warn("failed to unregister executor", "error", err)
	}
	return nil
}

// reporter отправляет результат на callback URL, иначе в очередь engine.results.
func reporter(publisher *mq.Publisher) transport.ResultReporter {
	callback := transport.CallbackReporter(nil)
	return func(ctx context.Context, env *transport.TaskEnvelope, result domain.NodeResult) error {
		if env.CallbackURL != "" {
			return callback(ctx, env, result)
		}
		if publisher == nil {
			return errors.New("no callback url and no result queue")
		}
		return publisher.PublishResult(ctx, result)
	}
}

// registration собирает запрос регистрации по типу коммуникации.
func registration(ec config.ExecutorConfig) cli.RegisterExecutorRequest {
	req := cli.RegisterExecutorRequest{
		ID:                 ec.ID,
		Type:               ec.Type,
		CommunicationType:  ec.Communication,
		Endpoint:           ec.Endpoint,
		HeartbeatTimeoutMs: (3 * ec.HeartbeatInterval).Milliseconds(),
		Metadata: map[string]string{
			"grpc_port": strconv.Itoa(ec.GRPCPort),
			"http_port": strconv.Itoa(ec.HTTPPort),
		},
	}
	if req.Endpoint == "" {
		switch domain.CommunicationType(ec.Communication) {
		case domain.CommunicationGRPC:
			req.Endpoint = "localhost:" + strconv.Itoa(ec.GRPCPort)
		case domain.CommunicationREST:
			req.Endpoint = "http://localhost:" + strconv.Itoa(ec.HTTPPort)
		}
	}
	return req
}

func heartbeatLoop(ctx context.Context, beat worker.HeartbeatFunc, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := beat(ctx); err != nil {
				logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
