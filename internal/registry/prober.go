package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/shaiso/dagflow/internal/domain"
)

// Prober проверяет здоровье одного исполнителя.
type Prober interface {
	Probe(ctx context.Context, executor domain.ExecutorInfo) error
}

// ProberFunc — адаптер функции к Prober.
type ProberFunc func(ctx context.Context, executor domain.ExecutorInfo) error

// Probe вызывает f.
func (f ProberFunc) Probe(ctx context.Context, executor domain.ExecutorInfo) error {
	return f(ctx, executor)
}

// GRPCProber проверяет исполнителя через grpc.health.v1.Health/Check.
type GRPCProber struct {
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCProber создаёт GRPCProber. Без опций — соединение без TLS.
func NewGRPCProber(opts ...grpc.DialOption) *GRPCProber {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCProber{dialOpts: opts, conns: make(map[string]*grpc.ClientConn)}
}

// Probe выполняет Health/Check.
func (p *GRPCProber) Probe(ctx context.Context, executor domain.ExecutorInfo) error {
	conn, err := p.conn(executor.Endpoint)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", executor.Endpoint, err)
	}

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check %s: %w", executor.ID, err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("executor %s is %s", executor.ID, resp.GetStatus())
	}
	return nil
}

func (p *GRPCProber) conn(endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty endpoint")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[endpoint]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(endpoint, p.dialOpts...)
	if err != nil {
		return nil, err
	}
	p.conns[endpoint] = c
	return c, nil
}

// Close закрывает соединения.
func (p *GRPCProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for endpoint, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, endpoint)
	}
	return firstErr
}

// HTTPProber проверяет исполнителя запросом GET {endpoint}/healthz.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber создаёт HTTPProber. nil означает http.DefaultClient.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{client: client}
}

// Probe выполняет GET /healthz. Здоров при 2xx.
func (p *HTTPProber) Probe(ctx context.Context, executor domain.ExecutorInfo) error {
	url := strings.TrimRight(executor.Endpoint, "/") + "/healthz"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", executor.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check %s: HTTP %d", executor.ID, resp.StatusCode)
	}
	return nil
}
