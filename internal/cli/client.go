package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/dagflow/internal/xjson"
)

// TenantHeader — заголовок арендатора в API.
const TenantHeader = "X-Tenant-ID"

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DefinitionResponse — определение из API.
type DefinitionResponse struct {
	ID       string           `json:"id"`
	TenantID string           `json:"tenant_id"`
	Name     string           `json:"name"`
	Version  int              `json:"version"`
	Nodes    []map[string]any `json:"nodes"`
	Warnings []struct {
		NodeID  string `json:"node_id,omitempty"`
		Message string `json:"message"`
	} `json:"warnings,omitempty"`
	CreatedAt string `json:"created_at"`
}

// DefinitionSummary — элемент списка определений.
type DefinitionSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   int    `json:"version"`
	Nodes     int    `json:"nodes"`
	CreatedAt string `json:"created_at"`
}

// NodeExecutionResponse — состояние узла в run.
type NodeExecutionResponse struct {
	NodeID     string `json:"node_id"`
	Status     string `json:"status"`
	Attempt    int    `json:"attempt"`
	LastError  string `json:"last_error,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	ExecutorID string `json:"executor_id,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID                string                            `json:"id"`
	TenantID          string                            `json:"tenant_id"`
	DefinitionID      string                            `json:"definition_id"`
	DefinitionVersion int                               `json:"definition_version"`
	Status            string                            `json:"status"`
	Variables         map[string]any                    `json:"variables,omitempty"`
	NodeExecutions    map[string]*NodeExecutionResponse `json:"node_executions,omitempty"`
	ExecutionPath     []string                          `json:"execution_path,omitempty"`
	Error             string                            `json:"error,omitempty"`
	CreatedAt         string                            `json:"created_at"`
	FinishedAt        string                            `json:"finished_at,omitempty"`
	Stats             struct {
		Completed     int `json:"completed"`
		Skipped       int `json:"skipped"`
		TotalAttempts int `json:"total_attempts"`
	} `json:"stats"`
}

// RunSummary — элемент списка runs.
type RunSummary struct {
	ID                string `json:"id"`
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
	CreatedAt         string `json:"created_at"`
	FinishedAt        string `json:"finished_at,omitempty"`
}

// EventResponse — событие истории run.
type EventResponse struct {
	ID         string         `json:"id"`
	Sequence   int64          `json:"sequence"`
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// ExecutorResponse — исполнитель из API.
type ExecutorResponse struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	CommunicationType string            `json:"communication_type"`
	Endpoint          string            `json:"endpoint,omitempty"`
	LastHeartbeat     string            `json:"last_heartbeat"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Healthy           bool              `json:"healthy"`
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
	Start  bool           `json:"start,omitempty"`
}

// RegisterExecutorRequest — регистрация исполнителя.
type RegisterExecutorRequest struct {
	ID                 string            `json:"id"`
	Type               string            `json:"type"`
	CommunicationType  string            `json:"communication_type"`
	Endpoint           string            `json:"endpoint,omitempty"`
	HeartbeatTimeoutMs int64             `json:"heartbeat_timeout_ms,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	DefinitionID string
	Status       string
	Limit        int
	Offset       int
}

// --- API response wrappers ---

type dataResponse struct {
	Data xjson.RawMessage `json:"data"`
}

type listResponse struct {
	Data  xjson.RawMessage `json:"data"`
	Total int              `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ответ API с кодом ошибки.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для dagflow API.
type Client struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client
}

// NewClient создаёт клиент для API от имени арендатора.
func NewClient(baseURL, tenantID string) *Client {
	return &Client{
		baseURL:  baseURL,
		tenantID: tenantID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Definitions ---

// PublishDefinition публикует определение из JSON или YAML.
func (c *Client) PublishDefinition(ctx context.Context, spec []byte, contentType string) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/definitions", bytes.NewReader(spec), contentType, &def)
	return &def, err
}

// GetDefinition возвращает определение по ID.
func (c *Client) GetDefinition(ctx context.Context, id string) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.get(ctx, "/api/v1/definitions/"+id, &def)
	return &def, err
}

// ListDefinitions возвращает определения арендатора.
func (c *Client) ListDefinitions(ctx context.Context) ([]DefinitionSummary, error) {
	var defs []DefinitionSummary
	err := c.list(ctx, "/api/v1/definitions", nil, &defs)
	return defs, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunSummary, error) {
	params := url.Values{}
	if opts.DefinitionID != "" {
		params.Set("definition_id", opts.DefinitionID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunSummary
	err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run по определению.
func (c *Client) CreateRun(ctx context.Context, definitionID string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post(ctx, "/api/v1/definitions/"+definitionID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+id, &run)
	return &run, err
}

// History возвращает события run.
func (c *Client) History(ctx context.Context, id string) ([]EventResponse, error) {
	var events []EventResponse
	err := c.list(ctx, "/api/v1/runs/"+id+"/history", nil, &events)
	return events, err
}

// StartRun запускает run.
func (c *Client) StartRun(ctx context.Context, id string) (*RunResponse, error) {
	return c.runAction(ctx, id, "start", nil)
}

// CancelRun отменяет run.
func (c *Client) CancelRun(ctx context.Context, id, reason string) (*RunResponse, error) {
	return c.runAction(ctx, id, "cancel", reasonRequest{Reason: reason})
}

// SuspendRun приостанавливает run.
func (c *Client) SuspendRun(ctx context.Context, id, reason string) (*RunResponse, error) {
	return c.runAction(ctx, id, "suspend", reasonRequest{Reason: reason})
}

// ResumeRun возобновляет run.
func (c *Client) ResumeRun(ctx context.Context, id string) (*RunResponse, error) {
	return c.runAction(ctx, id, "resume", nil)
}

func (c *Client) runAction(ctx context.Context, id, action string, body any) (*RunResponse, error) {
	var run RunResponse
	err := c.post(ctx, "/api/v1/runs/"+id+"/"+action, body, &run)
	return &run, err
}

// --- Executors ---

// ListExecutors возвращает зарегистрированных исполнителей.
func (c *Client) ListExecutors(ctx context.Context) ([]ExecutorResponse, error) {
	var executors []ExecutorResponse
	err := c.list(ctx, "/api/v1/executors", nil, &executors)
	return executors, err
}

// RegisterExecutor регистрирует исполнителя.
func (c *Client) RegisterExecutor(ctx context.Context, req RegisterExecutorRequest) (*ExecutorResponse, error) {
	var executor ExecutorResponse
	err := c.post(ctx, "/api/v1/executors", req, &executor)
	return &executor, err
}

// Heartbeat обновляет heartbeat исполнителя.
func (c *Client) Heartbeat(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/executors/"+id+"/heartbeat", nil, nil)
}

// UnregisterExecutor удаляет исполнителя.
func (c *Client) UnregisterExecutor(ctx context.Context, id string) error {
	return c.doData(ctx, http.MethodDelete, "/api/v1/executors/"+id, nil, "", nil)
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, "", result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := xjson.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.doData(ctx, http.MethodPost, path, reader, "application/json", result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return xjson.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return xjson.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tenantID != "" {
		req.Header.Set(TenantHeader, c.tenantID)
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
