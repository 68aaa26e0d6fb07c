package compensation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shaiso/dagflow/internal/worker"
)

// Request — данные для обработчика компенсации одного узла.
type Request struct {
	RunID    string
	TenantID string
	NodeID   string

	// Config — отрендеренная конфигурация обработчика узла.
	Config map[string]any

	// Output — выход узла, который откатывается.
	Output map[string]any
}

// Handler откатывает работу одного узла.
type Handler interface {
	Compensate(ctx context.Context, req Request) error
}

// HandlerFunc — адаптер функции к Handler.
type HandlerFunc func(ctx context.Context, req Request) error

// Compensate вызывает f.
func (f HandlerFunc) Compensate(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// NoopHandler ничего не делает.
type NoopHandler struct{}

// Compensate возвращает nil.
func (NoopHandler) Compensate(context.Context, Request) error { return nil }

// LogHandler только записывает откат в лог.
type LogHandler struct {
	Logger *slog.Logger
}

// Compensate пишет запись в лог.
func (h LogHandler) Compensate(_ context.Context, req Request) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("node compensated",
		"run_id", req.RunID,
		"tenant_id", req.TenantID,
		"node_id", req.NodeID,
		"message", req.Config["message"],
	)
	return nil
}

// HTTPHandler выполняет HTTP-запрос по конфигурации компенсации
// (method, url, headers, body, timeout_sec).
type HTTPHandler struct {
	Client *http.Client
}

// Compensate выполняет запрос. Код ответа >= 400 считается ошибкой.
// Idempotency-Key одинаков для всех повторов компенсации узла.
func (h HTTPHandler) Compensate(ctx context.Context, req Request) error {
	headers := http.Header{}
	headers.Set(worker.HeaderIdempotencyKey, req.RunID+":"+req.NodeID+":compensate")
	headers.Set(worker.HeaderRunID, req.RunID)
	headers.Set(worker.HeaderNodeID, req.NodeID)

	result, err := worker.DoHTTP(ctx, h.Client, req.Config, headers)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return errors.New(result.Error)
	}
	return nil
}

// ErrUnknownHandler — обработчик с таким именем не зарегистрирован.
var ErrUnknownHandler = errors.New("unknown compensation handler")

// defaultHandlers — встроенные обработчики.
func defaultHandlers(logger *slog.Logger) map[string]Handler {
	return map[string]Handler{
		"noop": NoopHandler{},
		"log":  LogHandler{Logger: logger},
		"http": HTTPHandler{},
	}
}

func unknownHandler(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownHandler, name)
}
