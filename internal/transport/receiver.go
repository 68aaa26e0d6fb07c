package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/worker"
	"github.com/shaiso/dagflow/internal/xjson"
)

// maxEnvelopeSize — предел тела POST /tasks.
const maxEnvelopeSize = 1 << 20

// ResultReporter доставляет результат задачи движку.
type ResultReporter func(ctx context.Context, env *TaskEnvelope, result domain.NodeResult) error

// Receiver — сторона исполнителя для REST и gRPC транспорта.
//
// Принимает TaskEnvelope, подтверждает приём и выполняет задачу
// в worker.Runtime асинхронно. Результат уходит через ResultReporter.
type Receiver struct {
	runtime *worker.Runtime
	report  ResultReporter
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewReceiver создаёт Receiver.
func NewReceiver(runtime *worker.Runtime, report ResultReporter, logger *slog.Logger) *Receiver {
	if runtime == nil {
		runtime = worker.NewRuntime(worker.RuntimeConfig{Logger: logger})
	}
	return &Receiver{
		runtime: runtime,
		report:  report,
		logger:  telemetry.OrDefault(logger).With("component", "receiver"),
	}
}

// Receive принимает задачу по gRPC.
func (r *Receiver) Receive(ctx context.Context, env *TaskEnvelope) (*DispatchAck, error) {
	if err := r.accept(ctx, env); err != nil {
		return &DispatchAck{Accepted: false, Message: err.Error()}, nil
	}
	return &DispatchAck{Accepted: true}, nil
}

// ServeHTTP принимает задачу по REST (POST /tasks).
// 202 — задача принята, 400 — конверт некорректен.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env TaskEnvelope
	if err := xjson.NewDecoder(io.LimitReader(req.Body, maxEnvelopeSize)).Decode(&env); err != nil {
		http.Error(w, "invalid task envelope", http.StatusBadRequest)
		return
	}
	if err := r.accept(req.Context(), &env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Wait ждёт завершения принятых задач.
func (r *Receiver) Wait() {
	r.wg.Wait()
}

func (r *Receiver) accept(ctx context.Context, env *TaskEnvelope) error {
	if env == nil || env.Task == nil || env.Task.ID == "" {
		return errors.New("task is required")
	}
	if r.report == nil {
		return ErrNoResultHandler
	}

	task := *env.Task
	if env.ExecutorID != "" {
		task.ExecutorID = env.ExecutorID
	}
	envCopy := *env
	envCopy.Task = &task

	// Выполнение переживает завершение запроса
	execCtx := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		result := r.runtime.Execute(execCtx, &task)
		result.TenantID = task.TenantID
		if env.ExecutorID != "" {
			result.ExecutorID = env.ExecutorID
		}

		if err := r.report(execCtx, &envCopy, result); err != nil {
			r.logger.Error("failed to report task result",
				"task_id", task.ID,
				"run_id", task.RunID,
				"error", err,
			)
		}
	}()

	r.logger.Debug("task accepted", "task_id", task.ID, "node_type", task.NodeType)
	return nil
}

// CallbackReporter отправляет ResultEnvelope на CallbackURL конверта.
func CallbackReporter(client *http.Client) ResultReporter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, env *TaskEnvelope, result domain.NodeResult) error {
		if env.CallbackURL == "" {
			return fmt.Errorf("%w: no callback url for task %s", ErrInvalidEndpoint, result.TaskID)
		}

		body, err := xjson.Marshal(NewResultEnvelope(result))
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.CallbackURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", env.Task.TenantID)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("post result: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 300 {
			return fmt.Errorf("post result: HTTP %d", resp.StatusCode)
		}
		return nil
	}
}
