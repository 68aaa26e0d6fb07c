package transport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/resilience"
	"github.com/shaiso/dagflow/internal/xjson"
)

// Имена gRPC-сервиса исполнителя.
const (
	ExecutorServiceName = "dagflow.executor.v1.Executor"
	DispatchMethod      = "/" + ExecutorServiceName + "/Dispatch"
)

// JSONCodec — gRPC codec поверх xjson.
// Позволяет обойтись без protobuf-схемы для TaskEnvelope.
type JSONCodec struct{}

// Marshal сериализует сообщение.
func (JSONCodec) Marshal(v any) ([]byte, error) { return xjson.Marshal(v) }

// Unmarshal десериализует сообщение.
func (JSONCodec) Unmarshal(data []byte, v any) error { return xjson.Unmarshal(data, v) }

// Name — имя codec'а.
func (JSONCodec) Name() string { return "json" }

// Сервер выбирает codec по content-subtype, поэтому Dispatch
// обслуживается рядом с protobuf-сервисами (health).
func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// GRPCDispatcher отправляет задачу исполнителю unary-вызовом Dispatch.
//
// Соединения кешируются по endpoint.
type GRPCDispatcher struct {
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCDispatcher создаёт GRPCDispatcher.
// Без опций соединение устанавливается без TLS.
func NewGRPCDispatcher(opts ...grpc.DialOption) *GRPCDispatcher {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCDispatcher{
		dialOpts: opts,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// Dispatch отправляет задачу.
func (d *GRPCDispatcher) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	conn, err := d.conn(executor.Endpoint)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("%w: %v", ErrInvalidEndpoint, err))
	}

	env := &TaskEnvelope{Task: task, ExecutorID: executor.ID}
	ack := &DispatchAck{}

	if err := conn.Invoke(ctx, DispatchMethod, env, ack, grpc.ForceCodec(JSONCodec{})); err != nil {
		switch status.Code(err) {
		case codes.InvalidArgument, codes.FailedPrecondition, codes.Unimplemented, codes.PermissionDenied:
			return resilience.Permanent(fmt.Errorf("%w: %v", ErrDispatchRejected, err))
		}
		return fmt.Errorf("grpc dispatch to %s: %w", executor.ID, err)
	}

	if !ack.Accepted {
		return fmt.Errorf("%w: %s", ErrDispatchRejected, ack.Message)
	}
	return nil
}

// conn возвращает соединение с endpoint, создавая его при необходимости.
func (d *GRPCDispatcher) conn(endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty endpoint")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[endpoint]; ok {
		return c, nil
	}

	c, err := grpc.NewClient(endpoint, d.dialOpts...)
	if err != nil {
		return nil, err
	}
	d.conns[endpoint] = c
	return c, nil
}

// Close закрывает все соединения.
func (d *GRPCDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for endpoint, c := range d.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.conns, endpoint)
	}
	return firstErr
}

// TaskReceiver — серверная сторона gRPC Dispatch (реализуется исполнителем).
type TaskReceiver interface {
	Receive(ctx context.Context, env *TaskEnvelope) (*DispatchAck, error)
}

// RegisterTaskReceiver регистрирует сервис исполнителя на gRPC-сервере.
func RegisterTaskReceiver(s *grpc.Server, r TaskReceiver) {
	s.RegisterService(&executorServiceDesc, r)
}

var executorServiceDesc = grpc.ServiceDesc{
	ServiceName: ExecutorServiceName,
	HandlerType: (*TaskReceiver)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TaskEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if in.Task == nil {
		return nil, status.Error(codes.InvalidArgument, "task is required")
	}

	if interceptor == nil {
		return srv.(TaskReceiver).Receive(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DispatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskReceiver).Receive(ctx, req.(*TaskEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}
