package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
	maxErrorBody       = 200
)

// Заголовки, которые движок добавляет к HTTP-вызовам узлов.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRunID          = "X-Dagflow-Run-ID"
	HeaderNodeID         = "X-Dagflow-Node-ID"
	HeaderAttempt        = "X-Dagflow-Attempt"
)

// HTTPExecutor — executor для узла типа "http".
//
// Config (из task.Payload):
//   - method (string): HTTP-метод. Default: GET
//   - url (string): URL запроса (обязательно)
//   - query (map[string]any): параметры строки запроса
//   - headers (map[string]any): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON)
//   - timeout_sec (number): таймаут в секундах. Default: 30
//   - expect_status ([]number): коды успеха. Default: 2xx и 3xx
//
// Outputs:
//   - status_code (int): HTTP-код ответа
//   - headers (map[string]string): заголовки ответа
//   - body (any): тело ответа (JSON или строка)
//
// Каждый запрос несёт Idempotency-Key = ID задачи: повторная доставка
// той же попытки приходит с тем же ключом.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor создаёт HTTPExecutor. nil означает http.DefaultClient.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{client: client}
}

// Execute выполняет HTTP-запрос узла.
func (e *HTTPExecutor) Execute(ctx context.Context, task *domain.ScheduledTask) (*ExecutionResult, error) {
	headers := http.Header{}
	headers.Set(HeaderIdempotencyKey, task.ID)
	headers.Set(HeaderRunID, task.RunID.String())
	headers.Set(HeaderNodeID, task.NodeID)
	headers.Set(HeaderAttempt, fmt.Sprint(task.Attempt))

	return DoHTTP(ctx, e.client, task.Payload, headers)
}

// DoHTTP выполняет HTTP-запрос по конфигурации config.
// extra добавляется к заголовкам, но не перекрывает заданные в config.
// Используется также обработчиком компенсации "http".
func DoHTTP(ctx context.Context, client *http.Client, config map[string]any, extra http.Header) (*ExecutionResult, error) {
	if client == nil {
		client = http.DefaultClient
	}

	call, err := parseHTTPCall(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, call.method, call.url, call.body())
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrInvalidConfig, err)
	}
	for key, values := range extra {
		req.Header[key] = values
	}
	for key, val := range call.headers {
		req.Header.Set(key, val)
	}
	if call.payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	outputs := buildOutputs(resp, respBody)
	if call.accepts(resp.StatusCode) {
		return &ExecutionResult{Outputs: outputs}, nil
	}

	// Выходы сохраняются и при ошибке: следующий шаг может смотреть status_code
	return &ExecutionResult{
		Outputs:   outputs,
		Error:     fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBody)),
		Permanent: permanentStatus(resp.StatusCode),
	}, nil
}

// httpCall — разобранная конфигурация HTTP-запроса.
type httpCall struct {
	method  string
	url     string
	headers map[string]string
	payload []byte
	timeout time.Duration
	expect  []int
}

func parseHTTPCall(config map[string]any) (httpCall, error) {
	call := httpCall{
		method:  getString(config, "method", http.MethodGet),
		timeout: defaultHTTPTimeout,
		headers: stringMap(config["headers"]),
	}

	raw := getString(config, "url", "")
	if raw == "" {
		return call, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return call, fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	if query := stringMap(config["query"]); len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	call.url = u.String()

	if v := getFloat(config, "timeout_sec", 0); v > 0 {
		call.timeout = time.Duration(v * float64(time.Second))
	}

	if body, ok := config["body"]; ok && body != nil {
		call.payload, err = xjson.Marshal(body)
		if err != nil {
			return call, fmt.Errorf("%w: marshal body: %v", ErrInvalidConfig, err)
		}
	}

	if codes, ok := config["expect_status"].([]any); ok {
		for _, c := range codes {
			if code, ok := number(c); ok && code > 0 {
				call.expect = append(call.expect, int(code))
			}
		}
	}
	return call, nil
}

func (c httpCall) body() io.Reader {
	if c.payload == nil {
		return nil
	}
	return bytes.NewReader(c.payload)
}

// accepts сообщает, считается ли код успехом.
func (c httpCall) accepts(code int) bool {
	if len(c.expect) > 0 {
		return slices.Contains(c.expect, code)
	}
	return code < 400
}

// permanentStatus сообщает, что повтор запроса с этим кодом бесполезен.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// buildOutputs формирует outputs из HTTP-ответа.
func buildOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// JSON, иначе строка
	var parsedBody any
	if err := xjson.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return defaultVal
}

// getFloat извлекает число из map с default значением.
func getFloat(m map[string]any, key string, defaultVal float64) float64 {
	if v, ok := number(m[key]); ok {
		return v
	}
	return defaultVal
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// stringMap приводит map[string]any или map[string]string к строковым значениям.
// Нестроковые значения форматируются через fmt.
func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			} else if val != nil {
				out[k] = fmt.Sprint(val)
			}
		}
		return out
	}
	return nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
