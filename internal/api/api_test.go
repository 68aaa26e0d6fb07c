package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/engine"
	"github.com/shaiso/dagflow/internal/orchestrator"
	"github.com/shaiso/dagflow/internal/registry"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/scheduler"
	"github.com/shaiso/dagflow/internal/transport"
	"github.com/shaiso/dagflow/internal/xjson"
)

const definitionYAML = `
name: orders
nodes:
  - id: charge
    type: noop
    executor_type: default
`

// acceptAll — реестр планировщика, принимающий любую задачу.
type acceptAll struct {
	mu    sync.Mutex
	tasks []domain.ScheduledTask
}

func (a *acceptAll) GetExecutorForNode(string, domain.CommunicationType) (domain.ExecutorInfo, error) {
	return domain.ExecutorInfo{ID: "ex-1"}, nil
}

func (a *acceptAll) Dispatch(_ context.Context, task *domain.ScheduledTask, _ domain.ExecutorInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, *task)
	return nil
}

type testServer struct {
	mux   *http.ServeMux
	tasks *acceptAll
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repo.NewMemoryStore()
	tasks := &acceptAll{}

	sched := scheduler.New(scheduler.Config{Registry: tasks, Logger: logger})
	orch, err := orchestrator.New(orchestrator.Config{
		Runs:        store,
		Definitions: store,
		History:     store,
		Scheduler:   sched,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	reg, err := registry.New(registry.Config{Dispatcher: transport.NewRouter(), Logger: logger})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	h := NewHandler(Config{
		Orchestrator: orch,
		Definitions:  store,
		Runs:         store,
		Registry:     reg,
		Logger:       logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testServer{mux: mux, tasks: tasks}
}

func (s *testServer) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := xjson.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

type idStatus struct {
	ID      uuid.UUID `json:"id"`
	Version int       `json:"version"`
	Status  string    `json:"status"`
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data  T   `json:"data"`
		Total int `json:"total"`
	}
	if err := xjson.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp.Data
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

// --- Middleware Tests ---

func TestTenantRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/definitions", "", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "handler" {
		t.Errorf("order = %v", order)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	expectStatus(t, rec, http.StatusInternalServerError)
}

func TestRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	h := Chain(RequestID(logger), Logging())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(RequestIDHeader)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	expectStatus(t, rec, http.StatusAccepted)
	id := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("expected generated uuid, got %q", id)
	}
	if seen != id {
		t.Errorf("handler saw %q, response has %q", seen, id)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "client-1" {
		t.Errorf("expected client request id, got %q", got)
	}
}

// --- Definition Tests ---

func TestDefinitionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/definitions", "acme", definitionYAML)
	expectStatus(t, rec, http.StatusCreated)
	def := decodeData[idStatus](t, rec)
	if def.Version != 1 {
		t.Errorf("version = %d, want 1", def.Version)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/definitions", "acme", definitionYAML)
	expectStatus(t, rec, http.StatusCreated)
	if v := decodeData[idStatus](t, rec).Version; v != 2 {
		t.Errorf("second version = %d, want 2", v)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/definitions", "acme", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeData[[]idStatus](t, rec); len(list) != 2 {
		t.Errorf("list = %v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/definitions/"+def.ID.String(), "acme", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodGet, "/api/v1/definitions/"+def.ID.String(), "globex", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestPublishInvalidDefinition(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/definitions", "acme", `{"name":"empty","nodes":[]}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodGet, "/api/v1/definitions/not-a-uuid", "acme", nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

// --- Run Tests ---

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/definitions", "acme", definitionYAML)
	expectStatus(t, rec, http.StatusCreated)
	def := decodeData[idStatus](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/definitions/"+def.ID.String()+"/runs", "acme",
		CreateRunRequest{Inputs: map[string]any{"order": "o-1"}, Start: true})
	expectStatus(t, rec, http.StatusCreated)
	run := decodeData[idStatus](t, rec)
	if run.Status != string(domain.RunStatusRunning) {
		t.Fatalf("status = %s, want RUNNING", run.Status)
	}

	runPath := "/api/v1/runs/" + run.ID.String()

	rec = s.do(t, http.MethodGet, runPath, "globex", nil)
	expectStatus(t, rec, http.StatusNotFound)

	if len(s.tasks.tasks) != 1 {
		t.Fatalf("dispatched %d tasks, want 1", len(s.tasks.tasks))
	}
	result := transport.NewResultEnvelope(domain.NewSuccessResult(&s.tasks.tasks[0], "ex-1", map[string]any{"charged": true}))
	rec = s.do(t, http.MethodPost, runPath+"/results", "acme", result)
	expectStatus(t, rec, http.StatusAccepted)

	rec = s.do(t, http.MethodGet, runPath, "acme", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[idStatus](t, rec).Status; got != string(domain.RunStatusCompleted) {
		t.Errorf("status = %s, want COMPLETED", got)
	}

	rec = s.do(t, http.MethodGet, runPath+"/history", "acme", nil)
	expectStatus(t, rec, http.StatusOK)
	events := decodeData[[]domain.ExecutionEvent](t, rec)
	if len(events) == 0 || events[len(events)-1].Type != domain.EventRunCompleted {
		t.Errorf("history = %v", events)
	}

	rec = s.do(t, http.MethodPost, runPath+"/cancel", "acme", nil)
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = s.do(t, http.MethodGet, "/api/v1/runs?status=COMPLETED", "acme", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeData[[]idStatus](t, rec); len(list) != 1 {
		t.Errorf("runs = %v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/runs?status=BOGUS", "acme", nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSuspendResumeCancel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/definitions", "acme", definitionYAML)
	def := decodeData[idStatus](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/definitions/"+def.ID.String()+"/runs", "acme", nil)
	expectStatus(t, rec, http.StatusCreated)
	runPath := "/api/v1/runs/" + decodeData[idStatus](t, rec).ID.String()

	rec = s.do(t, http.MethodPost, runPath+"/resume", "acme", nil)
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = s.do(t, http.MethodPost, runPath+"/start", "acme", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodPost, runPath+"/suspend", "acme", ReasonRequest{Reason: "maintenance"})
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[idStatus](t, rec).Status; got != string(domain.RunStatusSuspended) {
		t.Errorf("status = %s, want SUSPENDED", got)
	}

	rec = s.do(t, http.MethodPost, runPath+"/resume", "acme", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodPost, runPath+"/cancel", "acme", ReasonRequest{Reason: "user"})
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[idStatus](t, rec).Status; got != string(domain.RunStatusCancelled) {
		t.Errorf("status = %s, want CANCELLED", got)
	}
}

func TestSubmitResultForeignRun(t *testing.T) {
	s := newTestServer(t)

	env := transport.ResultEnvelope{TaskID: domain.TaskID(uuid.New(), "A", 1), Success: true}
	rec := s.do(t, http.MethodPost, "/api/v1/runs/"+uuid.NewString()+"/results", "acme", env)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodPost, "/api/v1/runs/"+uuid.NewString()+"/results", "acme", `{"task_id":"garbage"}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

// --- Executor Tests ---

func TestExecutorEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/executors", "", RegisterExecutorRequest{
		ID:                "ex-1",
		Type:              "default",
		CommunicationType: domain.CommunicationREST,
		Endpoint:          "http://executor:8080",
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = s.do(t, http.MethodPost, "/api/v1/executors", "", RegisterExecutorRequest{ID: "bad"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodGet, "/api/v1/executors", "", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decodeData[[]ExecutorResponse](t, rec)
	if len(list) != 1 || !list[0].Healthy {
		t.Errorf("executors = %+v", list)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/executors/ex-1/heartbeat", "", nil)
	expectStatus(t, rec, http.StatusNoContent)

	rec = s.do(t, http.MethodPost, "/api/v1/executors/missing/heartbeat", "", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = s.do(t, http.MethodDelete, "/api/v1/executors/ex-1", "", nil)
	expectStatus(t, rec, http.StatusNoContent)
}

// --- Error Mapping Tests ---

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"run not found", fmt.Errorf("load: %w", orchestrator.ErrRunNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"repo not found", repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"transition", &orchestrator.TransitionError{From: domain.RunStatusCompleted, To: domain.RunStatusRunning}, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{"validation", engine.NewValidationError("a", "id", "bad", engine.ErrInvalidNodeID), http.StatusBadRequest, ErrCodeInvalidDefinition},
		{"no executor", registry.ErrNoExecutorAvailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("StatusFor() = %d %s, want %d %s", status, code, tt.status, tt.code)
			}
		})
	}
}

func TestHandleError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	if !HandleError(rec, slog.New(slog.DiscardHandler), errors.New("password=secret")) {
		t.Fatal("expected error to be handled")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("secret")) {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}
