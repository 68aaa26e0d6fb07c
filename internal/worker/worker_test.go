package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

func newTask(nodeType string, payload map[string]any) *domain.ScheduledTask {
	runID := uuid.New()
	return &domain.ScheduledTask{
		ID:       domain.TaskID(runID, "n1", 1),
		RunID:    runID,
		NodeID:   "n1",
		NodeType: nodeType,
		Attempt:  1,
		Payload:  payload,
	}
}

// --- HTTPExecutor Tests ---

func TestHTTPExecutor_GET_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("X-Custom", "test-value")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.Client())
	result, err := executor.Execute(context.Background(), newTask("http", map[string]any{
		"method": "GET",
		"url":    server.URL,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected execution error: %s", result.Error)
	}

	if result.Outputs["status_code"] != http.StatusOK {
		t.Errorf("expected status 200, got %v", result.Outputs["status_code"])
	}

	headers, ok := result.Outputs["headers"].(map[string]string)
	if !ok {
		t.Fatal("headers should be map[string]string")
	}
	if headers["X-Custom"] != "test-value" {
		t.Errorf("expected X-Custom header, got %v", headers["X-Custom"])
	}

	body, ok := result.Outputs["body"].(map[string]any)
	if !ok {
		t.Fatalf("body should be map, got %T", result.Outputs["body"])
	}
	if body["result"] != "ok" {
		t.Errorf("expected result=ok, got %v", body["result"])
	}
}

func TestHTTPExecutor_POST_WithBody(t *testing.T) {
	var receivedBody map[string]any
	var receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		xjson.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.Client())
	result, err := executor.Execute(context.Background(), newTask("http", map[string]any{
		"method":  "POST",
		"url":     server.URL,
		"body":    map[string]any{"name": "test"},
		"headers": map[string]any{"X-Token": "abc"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outputs["status_code"] != http.StatusCreated {
		t.Errorf("expected 201, got %v", result.Outputs["status_code"])
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected application/json, got %q", receivedContentType)
	}
	if receivedBody["name"] != "test" {
		t.Errorf("expected body name=test, got %v", receivedBody)
	}
}

func TestHTTPExecutor_StatusClassification(t *testing.T) {
	tests := []struct {
		code      int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
			w.Write([]byte("nope"))
		}))

		result, err := NewHTTPExecutor(server.Client()).Execute(context.Background(),
			newTask("http", map[string]any{"url": server.URL}))
		server.Close()

		if err != nil {
			t.Fatalf("code %d: unexpected error: %v", tt.code, err)
		}
		if result.Error == "" {
			t.Errorf("code %d: expected execution error", tt.code)
		}
		if result.Permanent != tt.permanent {
			t.Errorf("code %d: expected permanent=%v, got %v", tt.code, tt.permanent, result.Permanent)
		}
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	_, err := NewHTTPExecutor(nil).Execute(context.Background(), newTask("http", map[string]any{}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHTTPExecutor_QueryAndEngineHeaders(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	task := newTask("http", map[string]any{
		"url":   server.URL + "/items?sort=asc",
		"query": map[string]any{"limit": float64(10), "q": "a b"},
	})
	task.Attempt = 2
	task.ID = domain.TaskID(task.RunID, task.NodeID, task.Attempt)

	if _, err := NewHTTPExecutor(server.Client()).Execute(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := got.URL.Query()
	if q.Get("sort") != "asc" || q.Get("limit") != "10" || q.Get("q") != "a b" {
		t.Errorf("unexpected query: %s", got.URL.RawQuery)
	}
	if key := got.Header.Get(HeaderIdempotencyKey); key != task.ID {
		t.Errorf("expected idempotency key %q, got %q", task.ID, key)
	}
	if got.Header.Get(HeaderRunID) != task.RunID.String() {
		t.Errorf("unexpected run header: %q", got.Header.Get(HeaderRunID))
	}
	if got.Header.Get(HeaderNodeID) != "n1" || got.Header.Get(HeaderAttempt) != "2" {
		t.Errorf("unexpected node/attempt headers: %q/%q", got.Header.Get(HeaderNodeID), got.Header.Get(HeaderAttempt))
	}
}

func TestHTTPExecutor_ConfigHeaderOverridesEngineHeader(t *testing.T) {
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(HeaderIdempotencyKey)
	}))
	defer server.Close()

	_, err := NewHTTPExecutor(server.Client()).Execute(context.Background(), newTask("http", map[string]any{
		"url":     server.URL,
		"headers": map[string]any{HeaderIdempotencyKey: "order-42"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "order-42" {
		t.Errorf("expected configured key, got %q", key)
	}
}

func TestHTTPExecutor_ExpectStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.Client())

	// 404 ожидаем — это успех
	result, err := executor.Execute(context.Background(), newTask("http", map[string]any{
		"url":           server.URL + "/missing",
		"expect_status": []any{float64(200), float64(404)},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Errorf("expected success for listed status, got %q", result.Error)
	}
	if result.Outputs["status_code"] != http.StatusNotFound {
		t.Errorf("expected status 404, got %v", result.Outputs["status_code"])
	}

	// 200 вне списка — ошибка, выходы сохраняются
	result, err = executor.Execute(context.Background(), newTask("http", map[string]any{
		"url":           server.URL,
		"expect_status": []any{201},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" {
		t.Error("expected error for unlisted status")
	}
	if result.Outputs["status_code"] != http.StatusOK {
		t.Errorf("outputs should be kept, got %v", result.Outputs)
	}
}

func TestHTTPExecutor_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := NewHTTPExecutor(server.Client()).Execute(context.Background(), newTask("http", map[string]any{
		"url":         server.URL,
		"timeout_sec": 0.05,
	}))
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}
// --- DelayExecutor Tests ---

func TestDelayExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&DelayExecutor{}).Execute(ctx, newTask("delay", map[string]any{"duration_sec": 10.0}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDelayExecutor_Short(t *testing.T) {
	result, err := (&DelayExecutor{}).Execute(context.Background(), newTask("delay", map[string]any{"duration_sec": 0.01}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outputs["delayed_sec"] != 0.01 {
		t.Errorf("expected delayed_sec=0.01, got %v", result.Outputs["delayed_sec"])
	}
}

func TestDelayExecutor_DurationString(t *testing.T) {
	result, err := (&DelayExecutor{}).Execute(context.Background(), newTask("delay", map[string]any{
		"duration":     "20ms",
		"duration_sec": 10.0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outputs["delayed_sec"] != 0.02 {
		t.Errorf("expected delayed_sec=0.02, got %v", result.Outputs["delayed_sec"])
	}

	_, err = (&DelayExecutor{}).Execute(context.Background(), newTask("delay", map[string]any{"duration": "soon"}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// --- TransformExecutor Tests ---

func TestTransformExecutor_CopiesPayload(t *testing.T) {
	payload := map[string]any{"a": 1}
	result, err := (&TransformExecutor{}).Execute(context.Background(), newTask("transform", payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result.Outputs["b"] = 2
	if _, ok := payload["b"]; ok {
		t.Error("outputs must not alias payload")
	}
	if result.Outputs["a"] != 1 {
		t.Errorf("expected a=1, got %v", result.Outputs["a"])
	}
}

// --- Registry Tests ---

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()
	want := []string{"delay", "http", "noop", "transform"}
	got := r.Types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}

	if _, err := r.Get("parallel"); !errors.Is(err, ErrUnknownNodeType) {
		t.Errorf("expected ErrUnknownNodeType, got %v", err)
	}
}

// --- Runtime Tests ---

type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ *domain.ScheduledTask) (*ExecutionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRuntime_Success(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{ExecutorID: "exec-1"})
	task := newTask("transform", map[string]any{"x": "y"})

	result := rt.Execute(context.Background(), task)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.ExecutorID != "exec-1" || result.TaskID != task.ID || result.Attempt != 1 {
		t.Errorf("unexpected result identity: %+v", result)
	}
	if result.Output["x"] != "y" {
		t.Errorf("expected output x=y, got %v", result.Output)
	}
}

func TestRuntime_UnknownTypeIsPermanent(t *testing.T) {
	result := NewRuntime(RuntimeConfig{}).Execute(context.Background(), newTask("unknown", nil))
	if result.Success || !result.Permanent {
		t.Errorf("expected permanent failure, got %+v", result)
	}
}

func TestRuntime_Timeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register("block", blockingExecutor{})
	rt := NewRuntime(RuntimeConfig{Registry: registry, DefaultTimeout: 20 * time.Millisecond})

	result := rt.Execute(context.Background(), newTask("block", nil))
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Permanent {
		t.Error("timeout must be retryable")
	}
	if result.Error == "" || !strings.Contains(result.Error, ErrExecutionTimeout.Error()) {
		t.Errorf("expected timeout error, got %q", result.Error)
	}
}

func TestRuntime_LogicalErrorKeepsPermanentFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	result := NewRuntime(RuntimeConfig{}).Execute(context.Background(),
		newTask("http", map[string]any{"url": server.URL}))
	if result.Success || !result.Permanent {
		t.Errorf("expected permanent failure, got %+v", result)
	}
}

// --- Worker Tests ---

type recordingPublisher struct {
	results []domain.NodeResult
}

func (p *recordingPublisher) PublishResult(_ context.Context, r domain.NodeResult) error {
	p.results = append(p.results, r)
	return nil
}

func TestWorker_ProcessTaskPublishesResult(t *testing.T) {
	pub := &recordingPublisher{}
	w := New(Config{Publisher: pub, ExecutorType: "default"})

	task := newTask("noop", nil)
	result := w.processTask(context.Background(), task)
	if err := w.publishResult(context.Background(), result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.results) != 1 {
		t.Fatalf("expected 1 published result, got %d", len(pub.results))
	}
	if !pub.results[0].Success || pub.results[0].TaskID != task.ID {
		t.Errorf("unexpected result: %+v", pub.results[0])
	}
}

func TestWorker_StopBeforeStart(t *testing.T) {
	w := New(Config{ExecutorType: "default"})
	w.Stop()

	if !w.IsStopped() {
		t.Error("expected worker to be stopped")
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped, got %v", err)
	}
}
