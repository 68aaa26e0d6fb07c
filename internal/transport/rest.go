package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/resilience"
	"github.com/shaiso/dagflow/internal/xjson"
)

// RESTDispatcher отправляет задачу исполнителю по HTTP.
//
// POST {endpoint}/tasks с TaskEnvelope. 2xx — задача принята.
// 4xx (кроме 408 и 429) — отказ без повторов, 5xx — временная ошибка.
type RESTDispatcher struct {
	client      *http.Client
	callbackURL string
}

// NewRESTDispatcher создаёт RESTDispatcher.
// callbackBaseURL — базовый URL API движка для результатов.
func NewRESTDispatcher(client *http.Client, callbackBaseURL string) *RESTDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTDispatcher{
		client:      client,
		callbackURL: strings.TrimRight(callbackBaseURL, "/"),
	}
}

// Dispatch отправляет задачу.
func (d *RESTDispatcher) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	endpoint := strings.TrimRight(executor.Endpoint, "/")
	if endpoint == "" {
		return resilience.Permanent(fmt.Errorf("%w: executor %s", ErrInvalidEndpoint, executor.ID))
	}

	env := TaskEnvelope{Task: task, ExecutorID: executor.ID}
	if d.callbackURL != "" {
		env.CallbackURL = fmt.Sprintf("%s/api/v1/runs/%s/results", d.callbackURL, task.RunID)
	}

	body, err := xjson.Marshal(env)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("marshal envelope: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/tasks", bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("%w: %v", ErrInvalidEndpoint, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", task.TenantID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post task to %s: %w", executor.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrDispatchRejected, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return resilience.Permanent(fmt.Errorf("%w: HTTP %d", ErrDispatchRejected, resp.StatusCode))
	default:
		return fmt.Errorf("executor %s: HTTP %d", executor.ID, resp.StatusCode)
	}
}
